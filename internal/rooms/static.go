// Package rooms implements RoomProvider backends.
package rooms

import (
	"context"
	"errors"
	"sync"

	"github.com/classlane/lessond/internal/ports"
)

// ErrUnknownRoom is returned when the provider has no occupancy data for
// the lesson. Scan jobs record it per lesson and move on.
var ErrUnknownRoom = errors.New("no occupancy data for lesson")

// Static is an in-memory provider fed by explicit Set calls. It backs
// tests and deployments where the meeting platform pushes occupancy
// updates into the daemon instead of being polled.
type Static struct {
	mu    sync.RWMutex
	rooms map[string]ports.Occupancy
}

func NewStatic() *Static {
	return &Static{rooms: make(map[string]ports.Occupancy)}
}

// Set records the current occupancy for a lesson's room.
func (s *Static) Set(lessonID string, occ ports.Occupancy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[lessonID] = occ
}

func (s *Static) Occupancy(_ context.Context, lessonID string) (ports.Occupancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occ, ok := s.rooms[lessonID]
	if !ok {
		return ports.Occupancy{}, ErrUnknownRoom
	}
	return occ, nil
}
