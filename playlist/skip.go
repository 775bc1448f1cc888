package playlist

import (
	"math"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// SkipVotes tracks who voted to skip the current entry and which messages
// announced the votes.
type SkipVotes struct {
	mu       sync.Mutex
	voters   map[snowflake.ID]struct{}
	messages []snowflake.ID
}

// AddVote records a vote and returns the vote count. Repeat voters are
// counted once.
func (s *SkipVotes) AddVote(voter snowflake.ID, message snowflake.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voters == nil {
		s.voters = make(map[snowflake.ID]struct{})
	}
	s.voters[voter] = struct{}{}
	if message != 0 {
		s.messages = append(s.messages, message)
	}
	return len(s.voters)
}

func (s *SkipVotes) HasVoted(voter snowflake.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.voters[voter]
	return ok
}

func (s *SkipVotes) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voters)
}

// Reset clears the votes and hands back the vote messages for cleanup.
func (s *SkipVotes) Reset() []snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages
	s.voters = nil
	s.messages = nil
	return msgs
}

// RequiredSkips is the smaller of the absolute threshold and the share of
// listeners given by ratio, rounded half away from zero.
func RequiredSkips(absolute int, ratio float64, occupancy int) int {
	return min(absolute, int(math.Round(float64(occupancy)*ratio)))
}

func RemainingSkips(absolute int, ratio float64, occupancy, votes int) int {
	return max(RequiredSkips(absolute, ratio, occupancy)-votes, 0)
}
