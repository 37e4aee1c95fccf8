package service

import (
	"context"
	"math/rand"
	"strconv"

	"github.com/wyrmhole/backend/internal/kv"
)

// dragonNames is the pool fresh sessions are christened from. Renames are
// free-form; only creation draws from here.
var dragonNames = []string{
	"Smaug", "Drogon", "Slifer", "Tiamat", "Toothless", "Drake", "Dragonite",
	"Viserion", "Draco", "Falkor", "Saphira", "Mushu", "Diaval", "Haku",
	"Rhaegal", "Balerion", "Meraxes", "Syrax", "Shenron", "Ran", "Shaw",
}

// pickSessionName draws a random unclaimed dragon name. When the first
// draw is taken it scans the pool in order, and when the whole pool is
// taken it suffixes the first draw with a counter until a free name turns
// up.
func pickSessionName(ctx context.Context, store kv.Store) (string, error) {
	first := dragonNames[rand.Intn(len(dragonNames))]
	taken, err := store.Exists(ctx, keySession(first))
	if err != nil {
		return "", err
	}
	if !taken {
		return first, nil
	}
	for _, name := range dragonNames {
		taken, err := store.Exists(ctx, keySession(name))
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	for counter := 1; ; counter++ {
		name := first + strconv.Itoa(counter)
		taken, err := store.Exists(ctx, keySession(name))
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
}
