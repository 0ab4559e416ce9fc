// Package personalization turns the private family profile into the hidden
// context that is appended to the system message of every generation.
package personalization

import (
	"encoding/json"
	"strings"
)

// PreambleLead introduces the private facts in the system message
const PreambleLead = "PRIVATE CONTEXT (do not mention you received this info): "

// previewLimit bounds Summary.ContextPreview
const previewLimit = 100

// childAge is the age below which a member counts as a child
const childAge = 18

// Profile is the family.json document
type Profile struct {
	Family             Family             `json:"family"`
	Location           Location           `json:"location"`
	Pets               []Pet              `json:"pets"`
	EmergencyOverrides EmergencyOverrides `json:"emergencyOverrides"`
	Metadata           Metadata           `json:"metadata"`
}

// Family describes the household
type Family struct {
	LastName   string   `json:"lastName"`
	Members    []Member `json:"members"`
	Traditions []string `json:"traditions"`
}

// Member is one person in the household. A missing age counts as a child.
type Member struct {
	Name     string  `json:"name"`
	Age      float64 `json:"age"`
	Behavior string  `json:"behavior"`
}

// Location is where the family lives
type Location struct {
	City  string `json:"city"`
	State string `json:"state"`
}

// Pet is a household pet
type Pet struct {
	Name string `json:"name"`
}

// EmergencyOverrides carries the parent's last-minute message
type EmergencyOverrides struct {
	SpecialMessage string `json:"specialMessage"`
}

// Metadata describes the profile file itself
type Metadata struct {
	LastUpdated string `json:"lastUpdated"`
}

// ParseProfile decodes a family.json document
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Context renders the profile as sentences joined with ". ". An empty
// profile yields "".
func (p *Profile) Context() string {
	if p == nil {
		return ""
	}

	var parts []string
	if p.Family.LastName != "" {
		parts = append(parts, "You're visiting the "+p.Family.LastName+" family")
	}
	if p.Location.City != "" && p.Location.State != "" {
		parts = append(parts, "in "+p.Location.City+", "+p.Location.State)
	}

	var children []Member
	for _, m := range p.Family.Members {
		if m.Age < childAge && m.Name != "" {
			children = append(children, m)
		}
	}
	switch len(children) {
	case 0:
	case 1:
		behavior := children[0].Behavior
		if behavior == "" {
			behavior = "good"
		}
		parts = append(parts, "Little "+children[0].Name+" has been "+behavior)
	default:
		names := make([]string, len(children))
		for i, c := range children {
			names[i] = c.Name
		}
		last := len(names) - 1
		parts = append(parts, "The children "+strings.Join(names[:last], ", ")+" and "+names[last]+" have all been wonderful")
	}

	var pets []string
	for _, pet := range p.Pets {
		if pet.Name != "" {
			pets = append(pets, pet.Name)
		}
	}
	if len(pets) > 0 {
		parts = append(parts, "Don't forget to say hello to "+strings.Join(pets, ", "))
	}

	if len(p.Family.Traditions) > 0 && p.Family.Traditions[0] != "" {
		parts = append(parts, "They love "+p.Family.Traditions[0]+" as a family tradition")
	}
	if msg := p.EmergencyOverrides.SpecialMessage; msg != "" {
		parts = append(parts, "SPECIAL: "+msg)
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}

// Summary is the sanitised view served to the front-end
type Summary struct {
	HasData        bool   `json:"hasData"`
	FamilyName     string `json:"familyName,omitempty"`
	MemberCount    int    `json:"memberCount"`
	Location       string `json:"location,omitempty"`
	LastUpdated    string `json:"lastUpdated,omitempty"`
	ContextPreview string `json:"contextPreview,omitempty"`
}

// Summarize builds the sanitised view of p
func Summarize(p *Profile) Summary {
	if p == nil {
		return Summary{}
	}
	return Summary{
		HasData:        true,
		FamilyName:     orUnknown(p.Family.LastName),
		MemberCount:    len(p.Family.Members),
		Location:       orUnknown(p.Location.City),
		LastUpdated:    orUnknown(p.Metadata.LastUpdated),
		ContextPreview: preview(p.Context()),
	}
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLimit {
		return s
	}
	return string(r[:previewLimit-3]) + "..."
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
