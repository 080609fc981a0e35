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

package twin

import (
	"context"

	"github.com/c2h5oh/datasize"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/richma-ms/iotedge/common/math"
	"github.com/richma-ms/iotedge/keylock"
	"github.com/richma-ms/iotedge/kv"
)

// Store keeps one durable twin per id in kv.Twins. Reads go straight to the
// database; every mutation runs under the id's key lock so concurrent
// read-modify-write cycles for the same twin serialize.
type Store struct {
	db    kv.Store
	locks *keylock.Table
	clock clockwork.Clock
	log   *zap.Logger
}

func NewStore(db kv.Store, locks *keylock.Table, clock clockwork.Clock, log *zap.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, locks: locks, clock: clock, log: log}
}

// Get reads the durable twin for id. The second return is false when none
// has been stored yet.
func (s *Store) Get(ctx context.Context, id string) (Twin, bool, error) {
	raw, found, err := s.db.Get(ctx, kv.Twins, []byte(id))
	if err != nil {
		return Twin{}, false, errors.Wrapf(err, "twin store: get %s", id)
	}
	if !found {
		return Twin{}, false, nil
	}
	tw, err := decodeTwin(raw)
	if err != nil {
		return Twin{}, false, errors.Wrapf(err, "twin store: get %s", id)
	}
	return tw, true, nil
}

// Put atomically replaces the durable twin for id.
func (s *Store) Put(ctx context.Context, id string, tw Twin) error {
	return s.Update(ctx, id, func(Twin, bool) (Twin, bool, error) {
		return tw, true, nil
	})
}

// Update runs fn under the id's key lock with the current twin (and whether
// one exists) and persists the returned twin when fn's second result is true.
// This is the atomic read-modify-write primitive the manager's resync path
// builds on.
func (s *Store) Update(ctx context.Context, id string, fn func(tw Twin, found bool) (Twin, bool, error)) error {
	guard, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer guard.Unlock()

	tw, found, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	out, write, err := fn(tw, found)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	raw, err := encodeTwin(out)
	if err != nil {
		return err
	}
	if err := s.db.Put(ctx, kv.Twins, []byte(id), raw); err != nil {
		return errors.Wrapf(err, "twin store: put %s", id)
	}
	return nil
}

// ApplyDesired merges a desired-property patch into the stored twin. A
// missing twin is created with a default reported side. Version handling is
// the caller's business: the patch's $version replaces the stored one.
func (s *Store) ApplyDesired(ctx context.Context, id string, patch Collection) error {
	return s.Update(ctx, id, func(tw Twin, found bool) (Twin, bool, error) {
		if !found {
			tw = Empty()
		}
		tw.Desired = Merge(tw.Desired, patch)
		return tw, true, nil
	})
}

// ApplyReported merges a reported-property patch into the stored twin,
// stamping metadata and bumping the reported version by one. The merged
// document is rejected (nothing written) when it would exceed
// MaxTwinDocumentSize or the version ceiling.
func (s *Store) ApplyReported(ctx context.Context, id string, patch Collection) error {
	return s.Update(ctx, id, func(tw Twin, found bool) (Twin, bool, error) {
		if !found {
			tw = Empty()
		}
		next, overflow := math.SafeAdd(tw.Reported.Version(), 1)
		if overflow || next > MaxVersion {
			return tw, false, errors.Wrapf(ErrVersionOverflow, "id %s", id)
		}
		annotated := AnnotateMetadata(patch, s.clock.Now(), next)
		merged := Merge(tw.Reported, annotated)
		merged.SetVersion(next)

		enc, err := encodeCollection(merged)
		if err != nil {
			return tw, false, err
		}
		if datasize.ByteSize(len(enc)) > MaxTwinDocumentSize {
			return tw, false, errors.Wrapf(ErrTooLarge, "merged reported for %s is %d bytes", id, len(enc))
		}
		tw.Reported = merged
		return tw, true, nil
	})
}
