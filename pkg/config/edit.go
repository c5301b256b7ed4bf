package config

import (
	"fmt"
	"slices"
	"strings"
)

// SetDefaultRegion changes the default region.
func (s *Settings) SetDefaultRegion(region string) error {
	region = strings.ToLower(strings.TrimSpace(region))
	if !IsKnownRegion(region) {
		return fmt.Errorf("invalid AWS region %q", region)
	}
	s.DefaultRegion = region
	return nil
}

// AddRegion appends region to the scanned set. It reports false when the
// region was already present.
func (s *Settings) AddRegion(region string) (bool, error) {
	region = strings.ToLower(strings.TrimSpace(region))
	if !IsKnownRegion(region) {
		return false, fmt.Errorf("invalid AWS region %q", region)
	}
	if slices.Contains(s.Regions, region) {
		return false, nil
	}
	s.Regions = append(s.Regions, region)
	return true, nil
}

// RemoveRegion drops region from the scanned set.
func (s *Settings) RemoveRegion(region string) bool {
	region = strings.ToLower(strings.TrimSpace(region))
	i := slices.Index(s.Regions, region)
	if i < 0 {
		return false
	}
	s.Regions = slices.Delete(s.Regions, i, i+1)
	return true
}

// AddSnare registers a decoy ARN.
func (s *Settings) AddSnare(arn string) (bool, error) {
	arn = strings.TrimSpace(arn)
	if !strings.HasPrefix(arn, "arn:") {
		return false, fmt.Errorf("%q is not an ARN", arn)
	}
	if slices.Contains(s.Snares, arn) {
		return false, nil
	}
	s.Snares = append(s.Snares, arn)
	return true, nil
}

// RemoveSnare unregisters a decoy ARN.
func (s *Settings) RemoveSnare(arn string) bool {
	i := slices.Index(s.Snares, strings.TrimSpace(arn))
	if i < 0 {
		return false
	}
	s.Snares = slices.Delete(s.Snares, i, i+1)
	return true
}
