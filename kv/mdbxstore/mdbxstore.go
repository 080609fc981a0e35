// Copyright 2025 The EdgeHub Authors
// This file is part of EdgeHub.
//
// EdgeHub is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// EdgeHub is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with EdgeHub. If not, see <http://www.gnu.org/licenses/>.

// Package mdbxstore backs kv.Store with libmdbx. One environment per gateway,
// one named DBI per table from kv.Tables.
package mdbxstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/pkg/errors"

	"github.com/richma-ms/iotedge/kv"
)

const (
	defaultMapSize   = 2 * datasize.GB
	defaultGrowth    = 16 * datasize.MB
	defaultPageSize  = 4 * datasize.KB
	dirtySpaceUnused = -1
)

type Store struct {
	env  *mdbx.Env
	dbis map[string]mdbx.DBI

	mu     sync.RWMutex
	closed bool
}

// New opens (creating if necessary) the environment at path. The file is a
// single mdbx datafile, not a directory.
func New(path string) (*Store, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, errors.Wrap(err, "mdbxstore: create env")
	}
	if err = env.SetOption(mdbx.OptMaxDB, uint64(len(kv.Tables))); err != nil {
		env.Close()
		return nil, errors.Wrap(err, "mdbxstore: set max dbs")
	}
	if err = env.SetGeometry(-1, -1, int(defaultMapSize), int(defaultGrowth), dirtySpaceUnused, int(defaultPageSize)); err != nil {
		env.Close()
		return nil, errors.Wrap(err, "mdbxstore: set geometry")
	}
	if err = env.Open(path, mdbx.NoSubdir|mdbx.SafeNoSync, 0644); err != nil {
		env.Close()
		return nil, errors.Wrapf(err, "mdbxstore: open %s", path)
	}

	dbis := make(map[string]mdbx.DBI, len(kv.Tables))
	if err = env.Update(func(txn *mdbx.Txn) error {
		for _, name := range kv.Tables {
			dbi, err := txn.OpenDBI(name, mdbx.Create, nil, nil)
			if err != nil {
				return errors.Wrapf(err, "open dbi %s", name)
			}
			dbis[name] = dbi
		}
		v := kv.DBSchemaVersion
		return txn.Put(dbis[kv.DatabaseInfo], []byte("schema_version"),
			[]byte(fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)), 0)
	}); err != nil {
		env.Close()
		return nil, errors.Wrap(err, "mdbxstore: open tables")
	}
	return &Store{env: env, dbis: dbis}, nil
}

func (s *Store) dbi(table string) (mdbx.DBI, error) {
	dbi, ok := s.dbis[table]
	if !ok {
		return 0, errors.Errorf("mdbxstore: unknown table %s", table)
	}
	return dbi, nil
}

func (s *Store) Get(ctx context.Context, table string, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, kv.ErrClosed
	}
	dbi, err := s.dbi(table)
	if err != nil {
		return nil, false, err
	}
	var value []byte
	var found bool
	err = s.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(dbi, key)
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = bytes.Clone(v), true
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "mdbxstore: get %s", table)
	}
	return value, found, nil
}

func (s *Store) Put(ctx context.Context, table string, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	dbi, err := s.dbi(table)
	if err != nil {
		return err
	}
	err = s.env.Update(func(txn *mdbx.Txn) error {
		return txn.Put(dbi, key, value, 0)
	})
	return errors.Wrapf(err, "mdbxstore: put %s", table)
}

func (s *Store) Delete(ctx context.Context, table string, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	dbi, err := s.dbi(table)
	if err != nil {
		return err
	}
	err = s.env.Update(func(txn *mdbx.Txn) error {
		err := txn.Del(dbi, key, nil)
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
	return errors.Wrapf(err, "mdbxstore: delete %s", table)
}

func (s *Store) ForPrefix(ctx context.Context, table string, prefix []byte, fn func(k, v []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	dbi, err := s.dbi(table)
	if err != nil {
		return err
	}
	return s.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return errors.Wrapf(err, "mdbxstore: cursor %s", table)
		}
		defer cur.Close()

		var k, v []byte
		if len(prefix) == 0 {
			k, v, err = cur.Get(nil, nil, mdbx.First)
		} else {
			k, v, err = cur.Get(prefix, nil, mdbx.SetRange)
		}
		for {
			if mdbx.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "mdbxstore: scan %s", table)
			}
			if !bytes.HasPrefix(k, prefix) {
				return nil
			}
			if err := fn(bytes.Clone(k), bytes.Clone(v)); err != nil {
				return err
			}
			k, v, err = cur.Get(nil, nil, mdbx.Next)
		}
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.env.Close()
	return nil
}
