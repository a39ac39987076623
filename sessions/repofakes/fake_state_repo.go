package repofakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/notifica/sessions"
)

var _ sessions.StateRepo = (*FakeStateRepo)(nil)

type FakeStateRepo struct {
	values map[string]string
	lock   sync.RWMutex
}

func NewFakeStateRepo() *FakeStateRepo {
	return &FakeStateRepo{
		values: make(map[string]string),
	}
}

func (r *FakeStateRepo) Get(_ context.Context, key string) (string, bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	v, ok := r.values[key]
	return v, ok, nil
}

func (r *FakeStateRepo) Set(_ context.Context, key, value string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.values[key] = value
	return nil
}

func (r *FakeStateRepo) SetIfAbsent(_ context.Context, key, value string) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if current, ok := r.values[key]; ok {
		return current, nil
	}
	r.values[key] = value
	return value, nil
}

func (r *FakeStateRepo) Delete(_ context.Context, key string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.values, key)
	return nil
}
