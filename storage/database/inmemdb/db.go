// Package inmemdb implements the repositories on mutex-guarded maps. Used by tests and the `memory` storage driver.
package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-results/core/scratchcard"
	"github.com/trezcool/masomo-results/core/user"
)

type (
	DB struct {
		user        *userTable
		scratchCard *scratchCardTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	scratchCardTable struct {
		mutex sync.RWMutex
		table map[string]*scratchcard.ScratchCard
		byPin map[string][]string // pin -> card ids, oldest first
	}
)

func Open() *DB {
	return &DB{
		user:        &userTable{table: make(map[string]*user.User)},
		scratchCard: &scratchCardTable{table: make(map[string]*scratchcard.ScratchCard), byPin: make(map[string][]string)},
	}
}
