package dummydb

import (
	"sync"

	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/question"
)

type (
	DB struct {
		account  *accountTable
		question *questionTable
	}

	accountTable struct {
		sync.RWMutex
		table map[string]*account.Account
	}

	questionTable struct {
		sync.RWMutex
		table map[string]*question.Question
	}
)

func Open() (*DB, error) {
	db := &DB{
		account:  &accountTable{table: make(map[string]*account.Account)},
		question: &questionTable{table: make(map[string]*question.Question)},
	}
	return db, nil
}
