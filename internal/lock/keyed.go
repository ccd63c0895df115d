package lock

import (
	"sort"
	"sync"
)

// Keyed serializes work per entity key. Keys that are not held cost nothing:
// entries are dropped when their last holder releases them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockAll acquires every distinct key in ascending order so that two callers
// holding overlapping sets can never deadlock. Release happens in reverse.
func (k *Keyed) LockAll(keys ...string) func() {
	ordered := Ordered(keys...)
	releases := make([]func(), 0, len(ordered))
	for _, key := range ordered {
		releases = append(releases, k.Lock(key))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// Ordered returns the distinct keys sorted ascending.
func Ordered(keys ...string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func Account(id string) string   { return "account:" + id }
func Loan(id string) string      { return "loan:" + id }
func Wallet(id string) string    { return "wallet:" + id }
func Guarantor(id string) string { return "guarantor:" + id }
func Member(id string) string    { return "member:" + id }
func Product(id string) string   { return "product:" + id }
func Mandate(id string) string   { return "mandate:" + id }
