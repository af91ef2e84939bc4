package router

import (
	"unicode/utf16"

	"supportloop/internal/domain"
)

// BucketCount is the size of the traffic split space.
const BucketCount = 100

// HashVersion names the bucket arithmetic below. Changing Bucket reshuffles
// every live experiment, so a new scheme must ship as a new version.
const HashVersion = "v1"

// Bucket is hash v1: a 32-bit multiply-and-wrap string hash
// (h = h*31 + code unit, over UTF-16 code units), absolute value, mod 100.
// Invalid UTF-8 bytes hash as U+FFFD.
func Bucket(userID string) int {
	var h int32
	for _, unit := range utf16.Encode([]rune(userID)) {
		h = h*31 + int32(unit)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % BucketCount)
}

// Assign is pure: the same userID and config always give the same result.
// Buckets below the candidate's traffic percent go to the candidate.
func Assign(userID string, cfg domain.VariantConfig) domain.Assignment {
	bucket := Bucket(userID)
	if cfg.HasCandidate() && bucket < cfg.Candidate.TrafficWeightPercent {
		return domain.Assignment{Bucket: bucket, VariantKey: cfg.Candidate.Key, IsCandidate: true}
	}
	return domain.Assignment{Bucket: bucket, VariantKey: cfg.Base.Key}
}
