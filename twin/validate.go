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
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"

	"github.com/richma-ms/iotedge/common/math"
)

// Reported-property limits. Patches and documents beyond these are rejected
// before any state mutates.
const (
	MaxReportedPatchSize = 8 * datasize.KB
	MaxTwinDocumentSize  = 32 * datasize.KB
	MaxReportedDepth     = 5
	MaxVersion           = math.MaxInt32
)

var (
	ErrTooLarge        = errors.New("twin: document exceeds size limit")
	ErrTooDeep         = errors.New("twin: nesting exceeds depth limit")
	ErrBadKey          = errors.New("twin: invalid property key")
	ErrVersionOverflow = errors.New("twin: reported version limit reached")
)

// ValidateReportedPatch checks a device-supplied reported-property patch:
// encoded size, nesting depth below the reported root, and key syntax.
// The merged-document size and version ceiling are enforced at apply time,
// where the resulting document is known.
func ValidateReportedPatch(patch Collection) error {
	enc, err := encodeCollection(patch)
	if err != nil {
		return err
	}
	if datasize.ByteSize(len(enc)) > MaxReportedPatchSize {
		return errors.Wrapf(ErrTooLarge, "patch is %d bytes, limit %d", len(enc), MaxReportedPatchSize.Bytes())
	}
	return validateKeys(patch, 1)
}

func validateKeys(m map[string]any, depth int) error {
	if depth > MaxReportedDepth {
		return errors.Wrapf(ErrTooDeep, "limit %d", MaxReportedDepth)
	}
	for k, v := range m {
		if strings.HasPrefix(k, "$") {
			if k != MetadataKey {
				return errors.Wrapf(ErrBadKey, "reserved key %q", k)
			}
			// metadata subtree carries $lastUpdated markers by design
			continue
		}
		if badKey(k) {
			return errors.Wrapf(ErrBadKey, "key %q", k)
		}
		if vm, ok := asMap(v); ok {
			if err := validateKeys(vm, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func badKey(k string) bool {
	if k == "" {
		return true
	}
	for _, r := range k {
		if r == '.' || r == '$' || r == ' ' || r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
