package service

import (
	"context"
	"strconv"

	"github.com/wyrmhole/backend/internal/identity"
	"github.com/wyrmhole/backend/internal/kv"
	"github.com/wyrmhole/backend/internal/observability"
)

// FileMeta is one file in an add batch as the client advertises it.
type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// FileInfo is the catalog projection returned to session members. The
// ownership flag is computed per caller.
type FileInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsOwner bool   `json:"isOwner"`
}

// Files is the per-session catalog of advertised file metadata. Only
// metadata lives here; bytes travel over the channel, encrypted end to
// end, and never touch the store for longer than one chunk.
type Files struct {
	store   kv.Store
	tokens  *identity.Tokens
	log     *observability.Logger
	metrics *observability.Metrics
}

func NewFiles(store kv.Store, tokens *identity.Tokens, log *observability.Logger, metrics *observability.Metrics) *Files {
	return &Files{store: store, tokens: tokens, log: log, metrics: metrics}
}

// Add advertises a batch of files. Names are unique per session and the
// whole batch is rejected on the first duplicate, before anything is
// written.
func (f *Files) Add(ctx context.Context, sid, authorization string, files []FileMeta) error {
	if err := requireSession(ctx, f.store, sid); err != nil {
		return err
	}
	caller, err := f.tokens.RequireMember(authorization, sid)
	if err != nil {
		return wrap(err)
	}

	for _, file := range files {
		exists, err := f.store.SIsMember(ctx, keyFiles(sid), file.Name)
		if err != nil {
			return wrap(err)
		}
		if exists {
			return conflict("file %q already exists", file.Name)
		}
	}
	if len(files) == 0 {
		return badRequest("no files provided")
	}

	for _, file := range files {
		fields := []string{
			"name", file.Name,
			"size", strconv.FormatInt(file.Size, 10),
			"owner.id", caller.UID,
		}
		if err := f.store.HSet(ctx, keyFile(sid, file.Name), fields, 0); err != nil {
			return wrap(err)
		}
		if err := f.store.SAdd(ctx, keyFiles(sid), file.Name, 0); err != nil {
			return wrap(err)
		}
	}

	f.metrics.FilesAdvertised.Add(float64(len(files)))
	f.log.FilesAdded(sid, len(files))
	return nil
}

// List returns every advertised file with the caller's ownership flag.
// A record whose hash has decayed mid-listing is skipped, not an error;
// its name will fall out of the index when its own lease goes.
func (f *Files) List(ctx context.Context, sid, authorization string) ([]FileInfo, error) {
	if err := requireSession(ctx, f.store, sid); err != nil {
		return nil, err
	}
	caller, err := f.tokens.RequireMember(authorization, sid)
	if err != nil {
		return nil, wrap(err)
	}

	names, err := f.store.SMembers(ctx, keyFiles(sid))
	if err != nil {
		return nil, wrap(err)
	}
	files := make([]FileInfo, 0, len(names))
	for _, name := range names {
		pairs, err := f.store.HGetAll(ctx, keyFile(sid, name))
		if err != nil {
			return nil, wrap(err)
		}
		info, ok := projectFile(pairs, caller.UID)
		if !ok {
			continue
		}
		files = append(files, info)
	}
	return files, nil
}

// Get returns one file's metadata by name.
func (f *Files) Get(ctx context.Context, sid, name, authorization string) (FileInfo, error) {
	if err := requireSession(ctx, f.store, sid); err != nil {
		return FileInfo{}, err
	}
	caller, err := f.tokens.RequireMember(authorization, sid)
	if err != nil {
		return FileInfo{}, wrap(err)
	}

	exists, err := f.store.Exists(ctx, keyFile(sid, name))
	if err != nil {
		return FileInfo{}, wrap(err)
	}
	if !exists {
		return FileInfo{}, notFound("file not found")
	}
	pairs, err := f.store.HGetAll(ctx, keyFile(sid, name))
	if err != nil {
		return FileInfo{}, wrap(err)
	}
	info, ok := projectFile(pairs, caller.UID)
	if !ok {
		return FileInfo{}, notFound("file not found")
	}
	return info, nil
}

// Delete withdraws a file from the catalog. The owner may delete its own
// files; the host may delete anything.
func (f *Files) Delete(ctx context.Context, sid, name, authorization string) error {
	if err := requireSession(ctx, f.store, sid); err != nil {
		return err
	}
	caller, err := f.tokens.RequireMember(authorization, sid)
	if err != nil {
		return wrap(err)
	}

	exists, err := f.store.Exists(ctx, keyFile(sid, name))
	if err != nil {
		return wrap(err)
	}
	if !exists {
		return notFound("file not found")
	}
	owner, err := f.store.HGet(ctx, keyFile(sid, name), "owner.id")
	if err != nil {
		return wrap(err)
	}
	if caller.UID != owner && !caller.IsHost {
		return forbidden("you are not allowed to delete this file")
	}

	if err := f.store.Del(ctx, keyFile(sid, name)); err != nil {
		return wrap(err)
	}
	if err := f.store.SRem(ctx, keyFiles(sid), name); err != nil {
		return wrap(err)
	}
	return nil
}

// projectFile maps a stored file hash onto its catalog projection. A hash
// without exactly the three expected fields is treated as corrupt.
func projectFile(pairs []string, uid string) (FileInfo, bool) {
	if len(pairs) != 6 {
		return FileInfo{}, false
	}
	name, okName := kv.HashValue(pairs, "name")
	sizeStr, okSize := kv.HashValue(pairs, "size")
	owner, okOwner := kv.HashValue(pairs, "owner.id")
	if !okName || !okSize || !okOwner {
		return FileInfo{}, false
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return FileInfo{}, false
	}
	return FileInfo{Name: name, Size: size, IsOwner: owner == uid}, true
}
