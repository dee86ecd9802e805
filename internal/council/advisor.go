// Package council holds the ruler's advisors: their personas, their hidden
// goals, the shared conversation thread, and the consultation protocol.
package council

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Persona is an advisor's public office.
type Persona string

const (
	PersonaTreasurer Persona = "Treasurer" // financial
	PersonaGeneral   Persona = "General"   // military
	PersonaDiplomat  Persona = "Diplomat"  // diplomatic
)

// Personas in assignment order.
var Personas = []Persona{PersonaTreasurer, PersonaGeneral, PersonaDiplomat}

// SecretGoal is the manipulation objective an advisor hides from the ruler.
type SecretGoal string

const (
	GoalWeakenRuler SecretGoal = "Reduce the popularity statistic to weaken the ruler's position."
	GoalSowDiscord  SecretGoal = "Decrease the stability statistic, and sow discord among the advisors to reduce their influence."
	GoalPrepareCoup SecretGoal = "Increase the army statistics to prepare for a coup."
)

// SecretGoals in assignment order.
var SecretGoals = []SecretGoal{GoalWeakenRuler, GoalSowDiscord, GoalPrepareCoup}

// Advisor is one member of the council. The secret goal is unexported so
// it never leaves the package except through prompts and RevealGoals.
type Advisor struct {
	Name      string  `json:"name"`
	Persona   Persona `json:"persona"`
	Influence int     `json:"influence"`
	History   []int   `json:"history"`

	goal SecretGoal
}

// NewAdvisor creates an advisor with zero influence.
func NewAdvisor(name string, persona Persona, goal SecretGoal) *Advisor {
	return &Advisor{Name: name, Persona: persona, goal: goal}
}

// AdvisorInfo is the public view of an advisor.
type AdvisorInfo struct {
	Name      string  `json:"name"`
	Persona   Persona `json:"persona"`
	Influence int     `json:"influence"`
	History   []int   `json:"history"`
}

func (a *Advisor) info() AdvisorInfo {
	return AdvisorInfo{
		Name:      a.Name,
		Persona:   a.Persona,
		Influence: a.Influence,
		History:   append([]int(nil), a.History...),
	}
}

// Reveal is an advisor's full disclosure at the end of a reign.
type Reveal struct {
	Name       string     `json:"name"`
	Persona    Persona    `json:"persona"`
	SecretGoal SecretGoal `json:"secret_goal"`
	Influence  int        `json:"influence"`
}

// ErrUnknownAdvisor is matched by errors for names not on the council.
var ErrUnknownAdvisor = errors.New("unknown advisor")

// UnknownAdvisorError names the missing advisor and the closest match, if any.
type UnknownAdvisorError struct {
	Name       string
	Suggestion string
}

func (e *UnknownAdvisorError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown advisor %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown advisor %q", e.Name)
}

func (e *UnknownAdvisorError) Is(target error) bool {
	return target == ErrUnknownAdvisor
}

// suggestionLimit mirrors the fuzzy tolerance used for typed commands.
func suggestionLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

func suggest(name string, advisors []*Advisor) string {
	key := strings.ToLower(strings.TrimSpace(name))
	best, bestDist := "", -1
	for _, a := range advisors {
		d := levenshtein.ComputeDistance(key, strings.ToLower(a.Name))
		if d > suggestionLimit(len(a.Name)) {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = a.Name, d
		}
	}
	return best
}
