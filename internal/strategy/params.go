package strategy

import (
	"bytes"
	"encoding/json"
	"time"

	"tradeforge/internal/condition"
	"tradeforge/internal/domain"
)

// Conditions is a buy or sell condition set. On the wire it is either a
// single node or an array of nodes; an array combines with OR.
type Conditions []condition.RawNode

func (c *Conditions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var n condition.RawNode
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*c = Conditions{n}
		return nil
	}
	var list []condition.RawNode
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*c = list
	return nil
}

// CustomParams configures a user-built condition-tree strategy.
type CustomParams struct {
	Buy  Conditions `json:"buyConditions"`
	Sell Conditions `json:"sellConditions"`
}

func (CustomParams) Kind() Kind { return KindCustom }

func (p CustomParams) Validate() error {
	if len(p.Buy) == 0 {
		return domain.NewValidationError("buyConditions", "at least one buy condition is required")
	}
	if len(p.Sell) == 0 {
		return domain.NewValidationError("sellConditions", "at least one sell condition is required")
	}
	if _, err := condition.ParseListAt("buyConditions", p.Buy); err != nil {
		return err
	}
	_, err := condition.ParseListAt("sellConditions", p.Sell)
	return err
}

// MeanReversionParams buys when the close sits EntryZ standard deviations
// below its Window mean and sells once the z-score recovers to ExitZ.
type MeanReversionParams struct {
	Window int     `json:"window"`
	EntryZ float64 `json:"entryZ"`
	ExitZ  float64 `json:"exitZ"`
}

func (MeanReversionParams) Kind() Kind { return KindMeanReversion }

func (p MeanReversionParams) Validate() error {
	switch {
	case p.Window < 2:
		return domain.NewValidationError("params.window", "must be >= 2, got %d", p.Window)
	case p.EntryZ <= 0:
		return domain.NewValidationError("params.entryZ", "must be positive, got %g", p.EntryZ)
	case p.ExitZ <= -p.EntryZ:
		return domain.NewValidationError("params.exitZ", "must be above -entryZ (%g), got %g", -p.EntryZ, p.ExitZ)
	}
	return nil
}

// MA types accepted by MACrossoverParams.
const (
	MATypeSMA = "sma"
	MATypeEMA = "ema"
)

// MACrossoverParams buys when the fast average crosses above the slow one
// and sells on the opposite cross.
type MACrossoverParams struct {
	FastPeriod int    `json:"fastPeriod"`
	SlowPeriod int    `json:"slowPeriod"`
	MAType     string `json:"maType"`
}

func (MACrossoverParams) Kind() Kind { return KindMACrossover }

func (p MACrossoverParams) Validate() error {
	switch {
	case p.FastPeriod < 1:
		return domain.NewValidationError("params.fastPeriod", "must be >= 1, got %d", p.FastPeriod)
	case p.SlowPeriod < 1:
		return domain.NewValidationError("params.slowPeriod", "must be >= 1, got %d", p.SlowPeriod)
	case p.FastPeriod >= p.SlowPeriod:
		return domain.NewValidationError("params.fastPeriod", "fast period %d must be less than slow period %d", p.FastPeriod, p.SlowPeriod)
	case p.MAType != MATypeSMA && p.MAType != MATypeEMA:
		return domain.NewValidationError("params.maType", "must be sma or ema, got %q", p.MAType)
	}
	return nil
}

// MomentumParams buys when RSI drops below Oversold and sells when it rises
// above Overbought.
type MomentumParams struct {
	RSIPeriod  int     `json:"rsiPeriod"`
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
}

func (MomentumParams) Kind() Kind { return KindMomentum }

func (p MomentumParams) Validate() error {
	switch {
	case p.RSIPeriod < condition.MinRSIPeriod || p.RSIPeriod > condition.MaxRSIPeriod:
		return domain.NewValidationError("params.rsiPeriod", "must be between %d and %d, got %d",
			condition.MinRSIPeriod, condition.MaxRSIPeriod, p.RSIPeriod)
	case p.Oversold <= 0 || p.Oversold >= 100:
		return domain.NewValidationError("params.oversold", "must be inside (0, 100), got %g", p.Oversold)
	case p.Overbought <= p.Oversold || p.Overbought >= 100:
		return domain.NewValidationError("params.overbought", "must be inside (oversold, 100), got %g", p.Overbought)
	}
	return nil
}

// Exit targets accepted by BollingerParams.
const (
	ExitAtMiddle = "middle"
	ExitAtUpper  = "upper"
)

// BollingerParams buys a close below the lower band and sells when the
// close reaches ExitAt.
type BollingerParams struct {
	Period     int     `json:"period"`
	Multiplier float64 `json:"multiplier"`
	ExitAt     string  `json:"exitAt"`
}

func (BollingerParams) Kind() Kind { return KindBollinger }

func (p BollingerParams) Validate() error {
	switch {
	case p.Period < 2:
		return domain.NewValidationError("params.period", "must be >= 2, got %d", p.Period)
	case p.Multiplier < condition.MinMultiplier || p.Multiplier > condition.MaxMultiplier:
		return domain.NewValidationError("params.multiplier", "must be between %g and %g, got %g",
			condition.MinMultiplier, condition.MaxMultiplier, p.Multiplier)
	case p.ExitAt != ExitAtMiddle && p.ExitAt != ExitAtUpper:
		return domain.NewValidationError("params.exitAt", "must be middle or upper, got %q", p.ExitAt)
	}
	return nil
}

// BreakoutParams buys when the close clears the prior Lookback-bar high on
// volume at least VolumeRatio times the prior average, for
// ConfirmationBars consecutive bars. It sells below the prior Lookback-bar
// low.
type BreakoutParams struct {
	Lookback         int     `json:"lookback"`
	VolumeRatio      float64 `json:"volumeRatio"`
	ConfirmationBars int     `json:"confirmationBars"`
}

func (BreakoutParams) Kind() Kind { return KindBreakout }

func (p BreakoutParams) Validate() error {
	switch {
	case p.Lookback < 1:
		return domain.NewValidationError("params.lookback", "must be >= 1, got %d", p.Lookback)
	case p.VolumeRatio < 0:
		return domain.NewValidationError("params.volumeRatio", "must be >= 0, got %g", p.VolumeRatio)
	case p.ConfirmationBars < 1:
		return domain.NewValidationError("params.confirmationBars", "must be >= 1, got %d", p.ConfirmationBars)
	}
	return nil
}

// SentimentScore is a news sentiment reading in [-1, 1] at a point in time.
type SentimentScore struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// SentimentParams buys when the latest sentiment reaches BuyThreshold with
// the close above its TrendPeriod SMA, and sells when sentiment falls to
// SellThreshold or the close drops below the trend.
type SentimentParams struct {
	Scores        []SentimentScore `json:"scores"`
	BuyThreshold  float64          `json:"buyThreshold"`
	SellThreshold float64          `json:"sellThreshold"`
	TrendPeriod   int              `json:"trendPeriod"`
}

func (SentimentParams) Kind() Kind { return KindSentiment }

func (p SentimentParams) Validate() error {
	switch {
	case p.BuyThreshold < -1 || p.BuyThreshold > 1:
		return domain.NewValidationError("params.buyThreshold", "must be between -1 and 1, got %g", p.BuyThreshold)
	case p.SellThreshold < -1 || p.SellThreshold >= p.BuyThreshold:
		return domain.NewValidationError("params.sellThreshold", "must be in [-1, buyThreshold), got %g", p.SellThreshold)
	case p.TrendPeriod < 1:
		return domain.NewValidationError("params.trendPeriod", "must be >= 1, got %d", p.TrendPeriod)
	}
	for i, s := range p.Scores {
		if s.Score < -1 || s.Score > 1 {
			return domain.NewValidationError("params.scores", "score %d is %g, outside [-1, 1]", i, s.Score)
		}
	}
	return nil
}

// DefaultParams returns the default parameters for kind.
func DefaultParams(kind Kind) (Params, error) {
	switch kind {
	case KindCustom:
		return CustomParams{}, nil
	case KindMeanReversion:
		return MeanReversionParams{Window: 20, EntryZ: 2, ExitZ: 0}, nil
	case KindMACrossover:
		return MACrossoverParams{FastPeriod: 10, SlowPeriod: 30, MAType: MATypeSMA}, nil
	case KindMomentum:
		return MomentumParams{RSIPeriod: 14, Oversold: 30, Overbought: 70}, nil
	case KindBollinger:
		return BollingerParams{Period: 20, Multiplier: 2, ExitAt: ExitAtMiddle}, nil
	case KindBreakout:
		return BreakoutParams{Lookback: 20, VolumeRatio: 1.5, ConfirmationBars: 1}, nil
	case KindSentiment:
		return SentimentParams{BuyThreshold: 0.3, SellThreshold: -0.3, TrendPeriod: 20}, nil
	}
	return nil, domain.NewValidationError("strategy", "unknown strategy kind %q", kind)
}

// DecodeParams decodes data over the defaults of kind and validates the
// result. Unknown fields are rejected. Empty data yields the defaults.
func DecodeParams(kind Kind, data []byte) (Params, error) {
	p, err := DefaultParams(kind)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		if p, err = decodeInto(p, data); err != nil {
			return nil, domain.NewValidationError("params", "decoding %s parameters: %v", kind, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeInto(p Params, data []byte) (Params, error) {
	switch v := p.(type) {
	case CustomParams:
		return decodeStrict(v, data)
	case MeanReversionParams:
		return decodeStrict(v, data)
	case MACrossoverParams:
		return decodeStrict(v, data)
	case MomentumParams:
		return decodeStrict(v, data)
	case BollingerParams:
		return decodeStrict(v, data)
	case BreakoutParams:
		return decodeStrict(v, data)
	case SentimentParams:
		return decodeStrict(v, data)
	}
	return p, nil
}

func decodeStrict[P Params](p P, data []byte) (Params, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}
