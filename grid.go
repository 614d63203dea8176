package main

// Grid rules for the 5x5 quiz board: ownership tags, win patterns, and the
// per-cell time budgets clients use when presenting a question.

const (
	gridCells = 25

	// Ownership tags for claimed cells. The first player to join a room is
	// the host ("P"), the second is the challenger ("C"). An unset cell
	// holds the empty string.
	ownerHost       = "P"
	ownerChallenger = "C"

	// A player reaching this score wins outright, whatever the grid looks like.
	winningScore = 13
)

// winPatterns holds the twelve winning cell groups: five rows, five columns,
// two diagonals. Declaration order matters; the first fully-owned pattern
// decides the winner.
var winPatterns = [12][5]int{
	{0, 1, 2, 3, 4},
	{5, 6, 7, 8, 9},
	{10, 11, 12, 13, 14},
	{15, 16, 17, 18, 19},
	{20, 21, 22, 23, 24},
	{0, 5, 10, 15, 20},
	{1, 6, 11, 16, 21},
	{2, 7, 12, 17, 22},
	{3, 8, 13, 18, 23},
	{4, 9, 14, 19, 24},
	{0, 6, 12, 18, 24},
	{4, 8, 12, 16, 20},
}

// ownerFor applies the steal rule: a correct answer claims the cell for the
// acting player, an incorrect answer hands it to the opponent.
func ownerFor(actorIsHost, correct bool) string {
	if correct == actorIsHost {
		return ownerHost
	}
	return ownerChallenger
}

// patternWinner scans the win patterns in declaration order and returns the
// owner tag of the first pattern whose five cells all carry the same tag.
func patternWinner(ownership []string) (string, bool) {
	for _, pattern := range &winPatterns {
		owner := ownership[pattern[0]]
		if owner == "" {
			continue
		}
		complete := true
		for _, index := range pattern[1:] {
			if ownership[index] != owner {
				complete = false
				break
			}
		}
		if complete {
			return owner, true
		}
	}
	return "", false
}

// Cells are grouped into three time-budget tiers: the center cell gets the
// shortest questions, the corners and the cells diagonally adjacent to the
// center get a bit longer, and everything else gets the full budget.
type cellTier int

const (
	tierCenter cellTier = iota
	tierCross
	tierStandard
)

func tierFor(index int) cellTier {
	switch index {
	case 12:
		return tierCenter
	case 0, 4, 6, 8, 16, 18, 20, 24:
		return tierCross
	default:
		return tierStandard
	}
}

// questionSeconds returns how many seconds a question on the given cell
// should allow.
func questionSeconds(index int) int {
	switch tierFor(index) {
	case tierCenter:
		return 30
	case tierCross:
		return 45
	default:
		return 60
	}
}

func emptyOwnership() []string {
	return make([]string, gridCells)
}
