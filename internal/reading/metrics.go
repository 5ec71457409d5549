// Package reading provides pure derivation of reading-behavior metrics
// from passage text and accumulated view telemetry.
package reading

import (
	"strings"
	"time"
)

// wordsPerMinute is the assumed average reading speed used for
// estimated reading time.
const wordsPerMinute = 200.0

// neutralComplexity is returned when the text has no words or no
// sentences, guarding the divide-by-zero cases.
const neutralComplexity = 5.0

// maxComplexity caps the complexity score.
const maxComplexity = 10.0

// Behavior classifies how a user engaged with a single passage view.
type Behavior string

const (
	// BehaviorFastScroll indicates the passage was scrolled past quickly.
	BehaviorFastScroll Behavior = "fast-scroll"
	// BehaviorCarefulRead indicates an ordinary attentive read.
	BehaviorCarefulRead Behavior = "careful-read"
	// BehaviorReRead indicates repeated pauses or interactions suggesting re-reading.
	BehaviorReRead Behavior = "re-read"
	// BehaviorAbandon indicates the passage was left early with low visibility.
	BehaviorAbandon Behavior = "abandon"
)

// Quality rates the overall engagement level of a session.
type Quality string

const (
	// QualityLow indicates minimal engagement.
	QualityLow Quality = "low"
	// QualityMedium indicates moderate engagement.
	QualityMedium Quality = "medium"
	// QualityHigh indicates strong engagement.
	QualityHigh Quality = "high"
)

// WordCount returns the number of whitespace-delimited non-empty tokens in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// EstimatedReadingTime estimates how long the text takes to read at the
// assumed words-per-minute rate. Returns 0 for empty text.
func EstimatedReadingTime(text string) time.Duration {
	words := WordCount(text)
	if words == 0 {
		return 0
	}
	minutes := float64(words) / wordsPerMinute
	return time.Duration(minutes * float64(time.Minute))
}

// TextComplexity scores text difficulty as the mean of average word length
// and average sentence length, capped at 10. Sentences are split on runs of
// '.', '!' and '?', discarding empty fragments. Returns the neutral score 5
// when the text has no words or no sentences.
func TextComplexity(text string) float64 {
	words := strings.Fields(text)

	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentenceCount := 0
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			sentenceCount++
		}
	}

	if len(words) == 0 || sentenceCount == 0 {
		return neutralComplexity
	}

	totalWordLen := 0
	for _, w := range words {
		totalWordLen += len(w)
	}
	avgWordLength := float64(totalWordLen) / float64(len(words))
	avgSentenceLength := float64(len(words)) / float64(sentenceCount)

	score := (avgWordLength + avgSentenceLength) / 2
	if score > maxComplexity {
		return maxComplexity
	}
	return score
}

// ScrollSpeed computes the net scroll speed in pixels per second over a view
// interval, using the distance between the first and last samples. Returns 0
// if there are fewer than 2 samples or the duration is 0.
func ScrollSpeed(positions []float64, duration time.Duration) float64 {
	if len(positions) < 2 || duration.Milliseconds() == 0 {
		return 0
	}
	distance := positions[len(positions)-1] - positions[0]
	if distance < 0 {
		distance = -distance
	}
	return distance / float64(duration.Milliseconds()) * 1000
}

// FeedVelocity computes passages viewed per minute of session time.
// Returns 0 when no time has elapsed.
func FeedVelocity(passagesViewed int, elapsed time.Duration) float64 {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(passagesViewed) / minutes
}

// ClassifyBehavior determines the reading behavior for a completed passage
// view. Rules are evaluated in precedence order:
//
//  1. duration < 2s and scroll speed > 100 px/s: fast-scroll
//  2. visibility < 0.3 and duration < 3s: abandon
//  3. more than 2 pauses or more than 1 interaction: re-read
//  4. otherwise: careful-read
func ClassifyBehavior(duration time.Duration, scrollSpeed float64, pauseCount int, visibility float64, interactionCount int) Behavior {
	if duration < 2*time.Second && scrollSpeed > 100 {
		return BehaviorFastScroll
	}
	if visibility < 0.3 && duration < 3*time.Second {
		return BehaviorAbandon
	}
	if pauseCount > 2 || interactionCount > 1 {
		return BehaviorReRead
	}
	return BehaviorCarefulRead
}

// SessionQuality rates a session from its counters. A session with zero
// viewed passages rates low (all rates are 0).
//
// Thresholds: high if like rate > 0.3, bookmark rate > 0.1, or average time
// per passage > 30s; else medium if like rate > 0.1 or average time > 10s;
// else low.
func SessionQuality(viewed, liked, bookmarked int, totalDuration time.Duration) Quality {
	var likeRate, bookmarkRate, avgTime float64
	if viewed > 0 {
		likeRate = float64(liked) / float64(viewed)
		bookmarkRate = float64(bookmarked) / float64(viewed)
		avgTime = float64(totalDuration.Milliseconds()) / float64(viewed)
	}

	if likeRate > 0.3 || bookmarkRate > 0.1 || avgTime > 30000 {
		return QualityHigh
	}
	if likeRate > 0.1 || avgTime > 10000 {
		return QualityMedium
	}
	return QualityLow
}
