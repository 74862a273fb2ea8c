package core

import (
	"errors"
	"testing"
)

func TestBucket(t *testing.T) {
	first, err := Bucket("user-123")
	if err != nil {
		t.Fatalf("Bucket() error = %v", err)
	}
	if first < 0 || first >= bucketCount {
		t.Fatalf("Bucket() = %d, want [0, %d)", first, bucketCount)
	}

	second, err := Bucket("user-123")
	if err != nil {
		t.Fatalf("Bucket() error = %v", err)
	}
	if first != second {
		t.Fatalf("Bucket() not stable: %d then %d", first, second)
	}

	number, err := Bucket(87625364383)
	if err != nil {
		t.Fatalf("Bucket() error = %v", err)
	}
	text, err := Bucket("87625364383")
	if err != nil {
		t.Fatalf("Bucket() error = %v", err)
	}
	if number != text {
		t.Fatalf("Bucket(number) = %d, Bucket(string) = %d, want equal", number, text)
	}
}

func TestBucketRejectsInvalidSeed(t *testing.T) {
	for _, seed := range []any{nil, true, []any{"a"}, map[string]any{}} {
		if _, err := Bucket(seed); !errors.Is(err, ErrMissingPercentageSeed) {
			t.Fatalf("Bucket(%#v) error = %v, want %v", seed, err, ErrMissingPercentageSeed)
		}
	}
}

func TestBucketDistribution(t *testing.T) {
	var counts [bucketCount]int
	for i := range 10000 {
		bucket, err := Bucket(i)
		if err != nil {
			t.Fatalf("Bucket() error = %v", err)
		}
		counts[bucket]++
	}

	for bucket, count := range counts {
		if count == 0 {
			t.Fatalf("bucket %d never chosen over 10000 seeds", bucket)
		}
	}
}
