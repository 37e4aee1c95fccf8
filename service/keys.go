package service

// Key builders for every coordination record in the store. The shapes are
// shared with the web clients, so they are wire contract rather than
// implementation detail. "session:" doubles as both the metadata hash
// (keyed by id) and the name pointer (keyed by name).

func keySession(idOrName string) string { return "session:" + idOrName }

func keyHostClaim(ip string) string { return "created.sessions:" + ip }

func keyAccessAttempts(sid, ip string) string { return "access.attempts:" + sid + ":" + ip }

func keyFiles(sid string) string { return "files:" + sid }

func keyFile(sid, name string) string { return "files:" + sid + ":" + name }

func keyFileReqs(sid string) string { return "file.reqs:" + sid }

func keyFileRequesters(sid, name string) string { return "file.reqs:" + sid + ":" + name }

func keyFileReqKey(sid, name, uid string) string { return "file.req:" + sid + ":" + name + ":" + uid }

func keyTransferUsers(rid string) string { return "file.req.users:" + rid }

func keyReceiverQueue(uid string) string { return "file.reqs.receiver:" + uid }

func keySenderQueue(uid string) string { return "file.reqs.sender:" + uid }

func keyPrep(rid string) string { return "file.req.prep:" + rid }

func keyChunkCurr(rid string) string { return "chunk.curr:" + rid }

func keyChunkReq(rid string) string { return "chunk.req:" + rid }

func keyChunk(rid string) string { return "chunk:" + rid }

func keyChunkSent(rid string) string { return "chunk.sent:" + rid }

func keyChunkIsLast(rid string) string { return "chunk.is.last:" + rid }
