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

// Merge applies patch to base and returns the result; neither input is
// modified. A nil patch value removes the key and its metadata. Objects merge
// recursively, everything else (arrays included) is replaced wholesale.
// Metadata present in the patch overrides base metadata at matching paths;
// paths the patch does not touch keep their prior metadata. Versions are
// caller-controlled: the patch's $version wins when present, otherwise the
// base's survives.
func Merge(base, patch Collection) Collection {
	out := mergeMaps(base, patch)
	if md, ok := asMap(out[MetadataKey]); ok {
		pruneRemovedMetadata(md, patch)
	}
	return Collection(out)
}

func mergeMaps(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = deepCopy(v)
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		pm, pok := asMap(v)
		bm, bok := asMap(out[k])
		if pok && bok {
			out[k] = mergeMaps(bm, pm)
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

// drop metadata mirrors of keys the patch removed
func pruneRemovedMetadata(md map[string]any, patch map[string]any) {
	for k, v := range patch {
		if len(k) > 0 && k[0] == '$' {
			continue
		}
		if v == nil {
			delete(md, k)
			continue
		}
		pm, pok := asMap(v)
		mm, mok := asMap(md[k])
		if pok && mok {
			pruneRemovedMetadata(mm, pm)
		}
	}
}

// Diff returns the minimal patch P with Merge(a, P) equivalent to b modulo
// $version and $metadata. Keys present in a but absent from b become nil
// (removal) entries; nested objects diff recursively with empty sub-diffs
// omitted. A nil return means the two collections already agree.
func Diff(a, b Collection) Collection {
	d := diffMaps(a, b, true)
	if len(d) == 0 {
		return nil
	}
	return Collection(d)
}

func diffMaps(a, b map[string]any, root bool) map[string]any {
	out := make(map[string]any)
	for k, av := range a {
		if root && (k == VersionKey || k == MetadataKey) {
			continue
		}
		bv, ok := b[k]
		if !ok {
			out[k] = nil
			continue
		}
		am, aok := asMap(av)
		bm, bok := asMap(bv)
		if aok && bok {
			if sub := diffMaps(am, bm, false); len(sub) > 0 {
				out[k] = sub
			}
			continue
		}
		if !valueEqual(av, bv) {
			out[k] = deepCopy(bv)
		}
	}
	for k, bv := range b {
		if root && (k == VersionKey || k == MetadataKey) {
			continue
		}
		if _, ok := a[k]; !ok {
			out[k] = deepCopy(bv)
		}
	}
	return out
}
