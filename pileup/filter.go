// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

// SiteFilter decides, for each finalized Site, whether the scan retains it.
// Filter must not keep a reference to a site it rejects; the scanner recycles
// it immediately.
type SiteFilter interface {
	Filter(s *Site) bool
}

// BatchFilter post-processes all retained sites once a scan completes.  Sites
// it drops are still owned by the scan's caller, who may release them.
type BatchFilter interface {
	FilterBatch(sites []*Site) []*Site
}

// SiteFilterFunc adapts a function to SiteFilter.
type SiteFilterFunc func(s *Site) bool

// Filter implements SiteFilter.
func (f SiteFilterFunc) Filter(s *Site) bool { return f(s) }

// BatchFilterFunc adapts a function to BatchFilter.
type BatchFilterFunc func(sites []*Site) []*Site

// FilterBatch implements BatchFilter.
func (f BatchFilterFunc) FilterBatch(sites []*Site) []*Site { return f(sites) }

// KeepAll retains every site.
var KeepAll SiteFilter = SiteFilterFunc(func(*Site) bool { return true })

// AltFilter retains sites with enough non-reference evidence.
type AltFilter struct {
	// MinDepth is the minimum depth.
	MinDepth int
	// MinAltCount is the minimum number of non-reference A/C/G/T calls.
	MinAltCount int
	// MinAltFraction is the minimum ratio of non-reference calls to depth.
	MinAltFraction float64
}

// Filter implements SiteFilter.
func (f AltFilter) Filter(s *Site) bool {
	if s.Depth < f.MinDepth || s.Depth == 0 {
		return false
	}
	alt := s.AltCount()
	return alt >= f.MinAltCount && float64(alt) >= f.MinAltFraction*float64(s.Depth)
}
