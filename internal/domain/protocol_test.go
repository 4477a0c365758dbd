package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultProtocol(t *testing.T) {
	p := DefaultProtocol()

	wantDays := []int{5, 15, 30, 60, 90}
	for i, want := range wantDays {
		if got := p.Days(Stage(i + 1)); got != want {
			t.Errorf("level%dDays: expected %d, got %d", i+1, want, got)
		}
	}

	wantChannels := [][]Channel{
		{ChannelEmail},
		{ChannelWhatsApp},
		{ChannelWhatsApp, ChannelEmail},
		{ChannelCall},
		{ChannelCall, ChannelWhatsApp},
	}
	for i, want := range wantChannels {
		got := p.Channels(Stage(i + 1))
		if len(got) != len(want) {
			t.Fatalf("level%dChannels: expected %v, got %v", i+1, want, got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("level%dChannels[%d]: expected %s, got %s", i+1, j, want[j], got[j])
			}
		}
	}

	if !p.RiskHighAmount.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected riskHighAmount 100000, got %s", p.RiskHighAmount)
	}
	if p.RiskHighDays != 60 {
		t.Errorf("expected riskHighDays 60, got %d", p.RiskHighDays)
	}
	if !p.RiskMediumAmount.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("expected riskMediumAmount 25000, got %s", p.RiskMediumAmount)
	}
	if p.RiskMediumDays != 30 {
		t.Errorf("expected riskMediumDays 30, got %d", p.RiskMediumDays)
	}

	if err := p.Validate(); err != nil {
		t.Errorf("default protocol should validate, got %v", err)
	}
}

func TestProtocolStageOutOfRange(t *testing.T) {
	p := DefaultProtocol()

	for _, s := range []Stage{StageNone, Stage(6), Stage(-1)} {
		if rule := p.Stage(s); rule.Days != 0 || rule.Channels != nil {
			t.Errorf("stage %d: expected zero rule, got %+v", s, rule)
		}
	}

	var nilProtocol *Protocol
	if rule := nilProtocol.Stage(Stage1); rule.Channels != nil {
		t.Errorf("nil protocol: expected zero rule, got %+v", rule)
	}
}

func TestProtocolJSON(t *testing.T) {
	t.Run("FlatShape", func(t *testing.T) {
		data, err := json.Marshal(DefaultProtocol())
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("unmarshal to map failed: %v", err)
		}

		for _, key := range []string{
			"level1Days", "level1Channels", "level5Days", "level5Channels",
			"riskHighAmount", "riskHighDays", "riskMediumAmount", "riskMediumDays",
		} {
			if _, ok := raw[key]; !ok {
				t.Errorf("expected key %s in %s", key, data)
			}
		}

		if v, ok := raw["riskHighAmount"].(float64); !ok || v != 100000 {
			t.Errorf("expected riskHighAmount as number 100000, got %v", raw["riskHighAmount"])
		}
	})

	t.Run("PartialDocumentKeepsDefaults", func(t *testing.T) {
		var p Protocol
		if err := json.Unmarshal([]byte(`{"level2Days": 20, "riskHighAmount": "150000.50"}`), &p); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if p.Days(Stage2) != 20 {
			t.Errorf("expected level2Days 20, got %d", p.Days(Stage2))
		}
		if p.Days(Stage3) != 30 {
			t.Errorf("expected default level3Days 30, got %d", p.Days(Stage3))
		}
		if !p.RiskHighAmount.Equal(decimal.RequireFromString("150000.50")) {
			t.Errorf("expected riskHighAmount 150000.50, got %s", p.RiskHighAmount)
		}
		if got := p.Channels(Stage4); len(got) != 1 || got[0] != ChannelCall {
			t.Errorf("expected default level4Channels [CALL], got %v", got)
		}
	})

	t.Run("SingularChannelKey", func(t *testing.T) {
		var p Protocol
		if err := json.Unmarshal([]byte(`{"level1Channel": ["SMS"]}`), &p); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if got := p.Channels(Stage1); len(got) != 1 || got[0] != ChannelSMS {
			t.Errorf("expected [SMS], got %v", got)
		}
	})

	t.Run("ExplicitEmptyList", func(t *testing.T) {
		var p Protocol
		if err := json.Unmarshal([]byte(`{"level3Channels": []}`), &p); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if got := p.Channels(Stage3); len(got) != 0 {
			t.Errorf("expected empty list to be preserved, got %v", got)
		}
	})

	t.Run("BadAmount", func(t *testing.T) {
		var p Protocol
		err := json.Unmarshal([]byte(`{"riskMediumAmount": "lots"}`), &p)
		if !errors.Is(err, ErrInvalidProtocol) {
			t.Errorf("expected ErrInvalidProtocol, got %v", err)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		orig := DefaultProtocol()
		orig.Stages[0].Days = 3
		orig.Stages[2].Channels = []Channel{ChannelSMS, ChannelManual}

		data, err := json.Marshal(orig)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		var back Protocol
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if back.Days(Stage1) != 3 {
			t.Errorf("expected level1Days 3, got %d", back.Days(Stage1))
		}
		if got := back.Channels(Stage3); len(got) != 2 || got[0] != ChannelSMS || got[1] != ChannelManual {
			t.Errorf("expected [SMS MANUAL], got %v", got)
		}
	})
}

func TestProtocolValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Protocol)
		wantErr string
	}{
		{"Defaults", func(p *Protocol) {}, ""},
		{"NegativeDays", func(p *Protocol) { p.Stages[0].Days = -1 }, "level1Days must not be negative"},
		{"EmptyChannels", func(p *Protocol) { p.Stages[3].Channels = nil }, "level4Channels must not be empty"},
		{"UnknownChannel", func(p *Protocol) { p.Stages[1].Channels = []Channel{"PIGEON"} }, "unknown channel"},
		{"ZeroLevel2", func(p *Protocol) { p.Stages[1].Days = 0 }, "level2Days must be at least 1"},
		{"InvertedLevel3", func(p *Protocol) { p.Stages[2].Days = 10 }, "level3Days must be greater than level2Days"},
		{"InvertedLevel4", func(p *Protocol) { p.Stages[3].Days = 30 }, "level4Days must be greater than level3Days"},
		{"Level5BelowLevel4", func(p *Protocol) { p.Stages[4].Days = 45 }, "level5Days must not be less than level4Days"},
		{"Level5EqualLevel4", func(p *Protocol) { p.Stages[4].Days = 60 }, ""},
		{"HighBelowMediumAmount", func(p *Protocol) { p.RiskHighAmount = decimal.NewFromInt(1000) }, "riskHighAmount"},
		{"HighBelowMediumDays", func(p *Protocol) { p.RiskHighDays = 10 }, "riskHighDays"},
		{"NegativeAmount", func(p *Protocol) { p.RiskMediumAmount = decimal.NewFromInt(-5) }, "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProtocol()
			tt.mutate(p)
			err := p.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidProtocol) {
				t.Fatalf("expected ErrInvalidProtocol, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestProtocolChannelEdits(t *testing.T) {
	t.Run("RemoveLastChannel", func(t *testing.T) {
		p := DefaultProtocol()
		err := p.RemoveChannel(Stage1, ChannelEmail)
		if !errors.Is(err, ErrLastChannel) {
			t.Errorf("expected ErrLastChannel, got %v", err)
		}
		if got := p.Channels(Stage1); len(got) != 1 {
			t.Errorf("expected channel list untouched, got %v", got)
		}
	})

	t.Run("RemoveOneOfTwo", func(t *testing.T) {
		p := DefaultProtocol()
		if err := p.RemoveChannel(Stage3, ChannelWhatsApp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := p.Channels(Stage3); len(got) != 1 || got[0] != ChannelEmail {
			t.Errorf("expected [EMAIL], got %v", got)
		}
	})

	t.Run("AddIsIdempotent", func(t *testing.T) {
		p := DefaultProtocol()
		_ = p.AddChannel(Stage4, ChannelSMS)
		_ = p.AddChannel(Stage4, ChannelSMS)
		if got := p.Channels(Stage4); len(got) != 2 || got[1] != ChannelSMS {
			t.Errorf("expected [CALL SMS], got %v", got)
		}
	})

	t.Run("AddUnknownChannel", func(t *testing.T) {
		p := DefaultProtocol()
		if err := p.AddChannel(Stage4, "FAX"); !errors.Is(err, ErrInvalidProtocol) {
			t.Errorf("expected ErrInvalidProtocol, got %v", err)
		}
	})

	t.Run("StageZeroRejected", func(t *testing.T) {
		p := DefaultProtocol()
		if err := p.AddChannel(StageNone, ChannelSMS); err == nil {
			t.Error("expected error for stage 0")
		}
	})
}

func TestProtocolClone(t *testing.T) {
	orig := DefaultProtocol()
	clone := orig.Clone()

	clone.Stages[2].Channels[0] = ChannelSMS
	clone.Stages[0].Days = 99

	if orig.Channels(Stage3)[0] != ChannelWhatsApp {
		t.Error("clone shares channel slice with original")
	}
	if orig.Days(Stage1) != 5 {
		t.Error("clone shares stage array with original")
	}
}
