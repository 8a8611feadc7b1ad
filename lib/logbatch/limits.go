// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logbatch

import (
	"strconv"
	"time"

	"github.com/bureau-foundation/logpipe/lib/logservice"
)

// Limits holds the flush thresholds. A batch is flushed before the
// next append when any of these holds, checked in this order:
//
//   - the batch is non-empty and its oldest event is at least MaxAge old
//   - its size is at least MaxBytes * SizeFraction
//   - its length is at least MaxCount * CountFraction
type Limits struct {
	MaxAge        time.Duration
	MaxBytes      int
	SizeFraction  float64
	MaxCount      int
	CountFraction float64
}

// DefaultLimits returns the thresholds matching the service's hard
// limits: 30 seconds, 80% of 1 MiB, 99% of 1000 events.
func DefaultLimits() Limits {
	return Limits{
		MaxAge:        30 * time.Second,
		MaxBytes:      logservice.MaxBatchBytes,
		SizeFraction:  0.8,
		MaxCount:      logservice.MaxBatchCount,
		CountFraction: 0.99,
	}
}

// Reason names the threshold that triggered a flush.
type Reason int

const (
	// ReasonNone means no threshold is crossed.
	ReasonNone Reason = iota
	ReasonAge
	ReasonSize
	ReasonCount

	// ReasonOverflow means the incoming event would push the batch
	// past MaxBytes or MaxCount even though no threshold is crossed.
	ReasonOverflow
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonAge:
		return "age"
	case ReasonSize:
		return "size"
	case ReasonCount:
		return "count"
	case ReasonOverflow:
		return "overflow"
	default:
		return "reason(" + strconv.Itoa(int(r)) + ")"
	}
}

// Check evaluates the thresholds for a batch of count events totalling
// sizeBytes whose oldest event has timestamp oldestMillis, at time
// nowMillis. The first crossed threshold wins.
func (l Limits) Check(nowMillis, oldestMillis int64, sizeBytes, count int) Reason {
	if count > 0 && nowMillis-oldestMillis >= l.MaxAge.Milliseconds() {
		return ReasonAge
	}
	if float64(sizeBytes) >= float64(l.MaxBytes)*l.SizeFraction {
		return ReasonSize
	}
	if float64(count) >= float64(l.MaxCount)*l.CountFraction {
		return ReasonCount
	}
	return ReasonNone
}

// Overflows reports whether adding an event of incomingBytes to a batch
// of count events totalling sizeBytes would exceed the hard limits.
func (l Limits) Overflows(sizeBytes, count, incomingBytes int) bool {
	return sizeBytes+incomingBytes > l.MaxBytes || count+1 > l.MaxCount
}
