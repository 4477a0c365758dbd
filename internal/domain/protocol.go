package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Channel is an outbound reminder channel.
type Channel string

const (
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelCall     Channel = "CALL"
	ChannelManual   Channel = "MANUAL"
)

// AllChannels lists every known channel in display order.
var AllChannels = []Channel{ChannelWhatsApp, ChannelEmail, ChannelSMS, ChannelCall, ChannelManual}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return slices.Contains(AllChannels, c)
}

// ParseChannel parses a case-insensitive channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidProtocol, s)
	}
	return c, nil
}

// Stage is an escalation stage, 0 (no action) through 5 (most aggressive).
type Stage int

const (
	StageNone Stage = iota
	Stage1
	Stage2
	Stage3
	Stage4
	Stage5
)

// StageCount is the number of configurable stages.
const StageCount = 5

// Valid reports whether s is within 0..5.
func (s Stage) Valid() bool { return s >= StageNone && s <= Stage5 }

// Label is the human-readable stage name.
func (s Stage) Label() string {
	switch s {
	case StageNone:
		return "Not due"
	case Stage1:
		return "Friendly nudge"
	case Stage2:
		return "Overdue standard"
	case Stage3:
		return "Overdue firm"
	case Stage4:
		return "Overdue management"
	case Stage5:
		return "Voice escalation"
	default:
		return "Unknown"
	}
}

// RiskLevel is a coarse exposure bucket.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk bucket.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

var (
	ErrInvalidProtocol = errors.New("invalid protocol")
	ErrLastChannel     = errors.New("stage must keep at least one channel")
)

// StageRule is the day threshold and ordered channel preference for one stage.
type StageRule struct {
	Days     int       `json:"days"`
	Channels []Channel `json:"channels"`
}

// Protocol is a tenant's escalation and risk configuration.
// Stages[0] configures stage 1.
type Protocol struct {
	Stages [StageCount]StageRule

	RiskHighAmount   decimal.Decimal
	RiskHighDays     int
	RiskMediumAmount decimal.Decimal
	RiskMediumDays   int
}

// DefaultProtocol returns the protocol every tenant starts with.
func DefaultProtocol() *Protocol {
	return &Protocol{
		Stages: [StageCount]StageRule{
			{Days: 5, Channels: []Channel{ChannelEmail}},
			{Days: 15, Channels: []Channel{ChannelWhatsApp}},
			{Days: 30, Channels: []Channel{ChannelWhatsApp, ChannelEmail}},
			{Days: 60, Channels: []Channel{ChannelCall}},
			{Days: 90, Channels: []Channel{ChannelCall, ChannelWhatsApp}},
		},
		RiskHighAmount:   decimal.NewFromInt(100000),
		RiskHighDays:     60,
		RiskMediumAmount: decimal.NewFromInt(25000),
		RiskMediumDays:   30,
	}
}

// Stage returns the rule for stage s (1..5). Out-of-range stages yield the zero rule.
func (p *Protocol) Stage(s Stage) StageRule {
	if p == nil || s < Stage1 || s > Stage5 {
		return StageRule{}
	}
	return p.Stages[s-1]
}

// Days is the day threshold for stage s.
func (p *Protocol) Days(s Stage) int { return p.Stage(s).Days }

// Channels is the ordered channel preference for stage s.
func (p *Protocol) Channels(s Stage) []Channel { return p.Stage(s).Channels }

// Clone returns a deep copy of p.
func (p *Protocol) Clone() *Protocol {
	if p == nil {
		return nil
	}
	c := *p
	for i := range c.Stages {
		c.Stages[i].Channels = slices.Clone(p.Stages[i].Channels)
	}
	return &c
}

// AddChannel appends ch to the stage's preference list if it is not already present.
func (p *Protocol) AddChannel(s Stage, ch Channel) error {
	if s < Stage1 || s > Stage5 {
		return fmt.Errorf("%w: stage %d out of range", ErrInvalidProtocol, s)
	}
	if !ch.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidProtocol, ch)
	}
	rule := &p.Stages[s-1]
	if !slices.Contains(rule.Channels, ch) {
		rule.Channels = append(rule.Channels, ch)
	}
	return nil
}

// RemoveChannel drops ch from the stage's preference list.
// Removing the last remaining channel is rejected with ErrLastChannel.
func (p *Protocol) RemoveChannel(s Stage, ch Channel) error {
	if s < Stage1 || s > Stage5 {
		return fmt.Errorf("%w: stage %d out of range", ErrInvalidProtocol, s)
	}
	rule := &p.Stages[s-1]
	idx := slices.Index(rule.Channels, ch)
	if idx < 0 {
		return nil
	}
	if len(rule.Channels) == 1 {
		return fmt.Errorf("%w: stage %d", ErrLastChannel, s)
	}
	rule.Channels = slices.Delete(rule.Channels, idx, idx+1)
	return nil
}

// Validate checks the protocol before it is committed.
// Classification itself never calls this; a stored protocol is classified as-is.
func (p *Protocol) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: protocol is required", ErrInvalidProtocol)
	}

	var problems []string
	for i, rule := range p.Stages {
		n := i + 1
		if rule.Days < 0 {
			problems = append(problems, fmt.Sprintf("level%dDays must not be negative", n))
		}
		if len(rule.Channels) == 0 {
			problems = append(problems, fmt.Sprintf("level%dChannels must not be empty", n))
		}
		for _, ch := range rule.Channels {
			if !ch.Valid() {
				problems = append(problems, fmt.Sprintf("level%dChannels has unknown channel %q", n, ch))
			}
		}
	}

	if p.Stages[1].Days < 1 {
		problems = append(problems, "level2Days must be at least 1")
	}
	if p.Stages[2].Days <= p.Stages[1].Days {
		problems = append(problems, "level3Days must be greater than level2Days")
	}
	if p.Stages[3].Days <= p.Stages[2].Days {
		problems = append(problems, "level4Days must be greater than level3Days")
	}
	if p.Stages[4].Days < p.Stages[3].Days {
		problems = append(problems, "level5Days must not be less than level4Days")
	}

	if p.RiskHighAmount.IsNegative() || p.RiskMediumAmount.IsNegative() {
		problems = append(problems, "risk amounts must not be negative")
	}
	if p.RiskHighDays < 0 || p.RiskMediumDays < 0 {
		problems = append(problems, "risk days must not be negative")
	}
	if p.RiskHighAmount.LessThan(p.RiskMediumAmount) {
		problems = append(problems, "riskHighAmount must not be less than riskMediumAmount")
	}
	if p.RiskHighDays < p.RiskMediumDays {
		problems = append(problems, "riskHighDays must not be less than riskMediumDays")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProtocol, strings.Join(problems, "; "))
	}
	return nil
}

// protocolWire is the flat persisted and API shape of a Protocol.
type protocolWire struct {
	Level1Days       int         `json:"level1Days"`
	Level1Channels   []Channel   `json:"level1Channels"`
	Level2Days       int         `json:"level2Days"`
	Level2Channels   []Channel   `json:"level2Channels"`
	Level3Days       int         `json:"level3Days"`
	Level3Channels   []Channel   `json:"level3Channels"`
	Level4Days       int         `json:"level4Days"`
	Level4Channels   []Channel   `json:"level4Channels"`
	Level5Days       int         `json:"level5Days"`
	Level5Channels   []Channel   `json:"level5Channels"`
	RiskHighAmount   json.Number `json:"riskHighAmount"`
	RiskHighDays     int         `json:"riskHighDays"`
	RiskMediumAmount json.Number `json:"riskMediumAmount"`
	RiskMediumDays   int         `json:"riskMediumDays"`

	// Singular spelling used by older stored documents.
	Level1Channel []Channel `json:"level1Channel,omitempty"`
	Level2Channel []Channel `json:"level2Channel,omitempty"`
	Level3Channel []Channel `json:"level3Channel,omitempty"`
	Level4Channel []Channel `json:"level4Channel,omitempty"`
	Level5Channel []Channel `json:"level5Channel,omitempty"`
}

// MarshalJSON writes the flat levelNDays/levelNChannels shape.
func (p Protocol) MarshalJSON() ([]byte, error) {
	w := protocolWire{
		Level1Days:       p.Stages[0].Days,
		Level1Channels:   nonNil(p.Stages[0].Channels),
		Level2Days:       p.Stages[1].Days,
		Level2Channels:   nonNil(p.Stages[1].Channels),
		Level3Days:       p.Stages[2].Days,
		Level3Channels:   nonNil(p.Stages[2].Channels),
		Level4Days:       p.Stages[3].Days,
		Level4Channels:   nonNil(p.Stages[3].Channels),
		Level5Days:       p.Stages[4].Days,
		Level5Channels:   nonNil(p.Stages[4].Channels),
		RiskHighAmount:   json.Number(p.RiskHighAmount.String()),
		RiskHighDays:     p.RiskHighDays,
		RiskMediumAmount: json.Number(p.RiskMediumAmount.String()),
		RiskMediumDays:   p.RiskMediumDays,
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the flat shape. Missing fields keep their default values.
func (p *Protocol) UnmarshalJSON(b []byte) error {
	def := DefaultProtocol()
	w := protocolWire{
		Level1Days:       def.Stages[0].Days,
		Level2Days:       def.Stages[1].Days,
		Level3Days:       def.Stages[2].Days,
		Level4Days:       def.Stages[3].Days,
		Level5Days:       def.Stages[4].Days,
		RiskHighAmount:   json.Number(def.RiskHighAmount.String()),
		RiskHighDays:     def.RiskHighDays,
		RiskMediumAmount: json.Number(def.RiskMediumAmount.String()),
		RiskMediumDays:   def.RiskMediumDays,
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProtocol, err)
	}

	highAmount, err := decimal.NewFromString(string(w.RiskHighAmount))
	if err != nil {
		return fmt.Errorf("%w: riskHighAmount: %v", ErrInvalidProtocol, err)
	}
	mediumAmount, err := decimal.NewFromString(string(w.RiskMediumAmount))
	if err != nil {
		return fmt.Errorf("%w: riskMediumAmount: %v", ErrInvalidProtocol, err)
	}

	pick := func(plural, singular, fallback []Channel) []Channel {
		switch {
		case plural != nil:
			return plural
		case singular != nil:
			return singular
		default:
			return fallback
		}
	}

	*p = Protocol{
		Stages: [StageCount]StageRule{
			{Days: w.Level1Days, Channels: pick(w.Level1Channels, w.Level1Channel, def.Stages[0].Channels)},
			{Days: w.Level2Days, Channels: pick(w.Level2Channels, w.Level2Channel, def.Stages[1].Channels)},
			{Days: w.Level3Days, Channels: pick(w.Level3Channels, w.Level3Channel, def.Stages[2].Channels)},
			{Days: w.Level4Days, Channels: pick(w.Level4Channels, w.Level4Channel, def.Stages[3].Channels)},
			{Days: w.Level5Days, Channels: pick(w.Level5Channels, w.Level5Channel, def.Stages[4].Channels)},
		},
		RiskHighAmount:   highAmount,
		RiskHighDays:     w.RiskHighDays,
		RiskMediumAmount: mediumAmount,
		RiskMediumDays:   w.RiskMediumDays,
	}
	return nil
}

func nonNil(c []Channel) []Channel {
	if c == nil {
		return []Channel{}
	}
	return c
}
