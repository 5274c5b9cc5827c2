/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package charges

import (
	"fmt"
	"strings"
)

// Replacement policy names accepted in configuration.
const (
	PolicyManual    = "manual"
	PolicyAutomatic = "automatic"
)

// ReplacementPolicy decides whether a rental is late enough to be charged
// the full replacement value instead of a daily fee.
type ReplacementPolicy interface {
	Name() string
	ShouldReplace(lateDays int) bool
}

// ManualReplacement never auto-charges a replacement. Operators charge it by
// hand; the engine keeps adding daily fees.
type ManualReplacement struct{}

func (ManualReplacement) Name() string { return PolicyManual }

func (ManualReplacement) ShouldReplace(int) bool { return false }

// AutoReplacement charges the replacement value once lateDays reaches
// ThresholdDays.
type AutoReplacement struct {
	ThresholdDays int
}

func (a AutoReplacement) Name() string { return PolicyAutomatic }

func (a AutoReplacement) ShouldReplace(lateDays int) bool {
	return a.ThresholdDays > 0 && lateDays >= a.ThresholdDays
}

// PolicyFromConfig returns the policy variant named by mode.
func PolicyFromConfig(mode string, thresholdDays int) (ReplacementPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", PolicyManual:
		return ManualReplacement{}, nil
	case PolicyAutomatic, "auto":
		if thresholdDays < 1 {
			return nil, fmt.Errorf("automatic replacement requires a positive threshold, got %d", thresholdDays)
		}
		return AutoReplacement{ThresholdDays: thresholdDays}, nil
	default:
		return nil, fmt.Errorf("unknown replacement policy %q", mode)
	}
}
