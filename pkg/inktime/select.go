package inktime

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"k8s.io/klog/v2"
)

// rerollAttempts bounds how many picks a reroll makes before accepting a repeat.
const rerollAttempts = 6

// Rand is the randomness used to choose among candidates.
type Rand interface {
	Intn(n int) int
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// DayLister returns the catalog records sharing a calendar day.
type DayLister interface {
	RecordsForDate(day time.Time) []*Photo
}

// Pick is the result of choosing a photo for a day.
type Pick struct {
	Photo *Photo
	// DateUsed is the day the photo came from; it may precede the requested day.
	DateUsed time.Time
	// Fallback is set when no photo on DateUsed scored above the threshold.
	Fallback bool
}

// Selector picks a memory photo for a calendar day.
type Selector struct {
	threshold   float64
	maxLookback int
	rand        Rand
}

// NewSelector returns a Selector. A nil r uses the process-wide random source.
func NewSelector(threshold float64, maxLookback int, r Rand) (*Selector, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold %v is not finite", ErrInvalidConfig, threshold)
	}
	if maxLookback < 1 {
		return nil, fmt.Errorf("%w: lookback %d < 1", ErrInvalidConfig, maxLookback)
	}
	if r == nil {
		r = globalRand{}
	}
	return &Selector{threshold: threshold, maxLookback: maxLookback, rand: r}, nil
}

// Pick chooses a photo for target, walking backwards one day at a time
// until a day with photos is found or the lookback budget runs out.
//
// A day with photos ends the walk even if none of them beat the threshold:
// a weak photo from the requested day is preferred over drifting further back.
func (s *Selector) Pick(dl DayLister, target time.Time) (Pick, bool) {
	d := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)

	for i := 0; i < s.maxLookback; i++ {
		if ps := dl.RecordsForDate(d); len(ps) > 0 {
			return s.pickFrom(ps, d), true
		}
		if !hasPrevDay(d) {
			break
		}
		d = d.AddDate(0, 0, -1)
	}

	klog.V(1).Infof("no photos within %d days of %s", s.maxLookback, Day(target))
	return Pick{}, false
}

func (s *Selector) pickFrom(ps []*Photo, d time.Time) Pick {
	var qualified []*Photo
	for _, p := range ps {
		if p.Memory != nil && *p.Memory > s.threshold {
			qualified = append(qualified, p)
		}
	}

	if len(qualified) > 0 {
		p := qualified[s.rand.Intn(len(qualified))]
		klog.V(1).Infof("%s: picked %s from %d/%d above %.1f", Day(d), p.Path, len(qualified), len(ps), s.threshold)
		return Pick{Photo: p, DateUsed: d}
	}

	p := ps[s.rand.Intn(len(ps))]
	klog.V(1).Infof("%s: none of %d above %.1f, picked %s anyway", Day(d), len(ps), s.threshold, p.Path)
	return Pick{Photo: p, DateUsed: d, Fallback: true}
}

// Reroll picks again for dateUsed, trying to avoid returning current.
// A day with a single eligible photo will return it again.
func (s *Selector) Reroll(dl DayLister, dateUsed time.Time, current *Photo) (Pick, bool) {
	return s.pickAvoiding(dl, dateUsed, func(p *Photo) bool {
		return current != nil && p.Path == current.Path
	})
}

// PickN picks up to n photos for target, rerolling to avoid repeats.
// Repeats are only returned when the day cannot supply enough distinct photos.
func (s *Selector) PickN(dl DayLister, target time.Time, n int) []Pick {
	var picks []Pick
	seen := map[string]bool{}
	for len(picks) < n {
		pk, ok := s.pickAvoiding(dl, target, func(p *Photo) bool { return seen[p.Path] })
		if !ok {
			break
		}
		seen[pk.Photo.Path] = true
		picks = append(picks, pk)
	}
	return picks
}

func (s *Selector) pickAvoiding(dl DayLister, target time.Time, avoid func(*Photo) bool) (Pick, bool) {
	var pk Pick
	for i := 0; i < rerollAttempts; i++ {
		var ok bool
		pk, ok = s.Pick(dl, target)
		if !ok {
			return Pick{}, false
		}
		if !avoid(pk.Photo) {
			return pk, true
		}
		klog.V(2).Infof("attempt %d: %s is a repeat", i+1, pk.Photo.Path)
	}
	return pk, true
}

// hasPrevDay reports whether a calendar day before d is representable.
func hasPrevDay(d time.Time) bool {
	return d.Year() > 1 || d.YearDay() > 1
}
