package oracles

import (
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

func testClock() *solana.Clock {
	return &solana.Clock{
		Slot:                1000,
		Epoch:               10,
		EpochStartTimestamp: 1_700_000_000,
		UnixTimestamp:       1_700_000_600,
	}
}

func TestScaledRatio(t *testing.T) {
	tests := []struct {
		name    string
		num     uint64
		den     uint64
		want    uint64
		wantErr error
	}{
		{"ratio one", 100000, 100000, 1_000_000_000_000_000, nil},
		{"ratio half", 100000, 200000, 500_000_000_000_000, nil},
		{"ratio two", 200000, 100000, 2_000_000_000_000_000, nil},
		{"zero supply", 100000, 0, 0, nil},
		{"numerator below denominator", 0, 5, 0, nil},
		{"overflow", math.MaxUint64, 1, 0, domain.ErrMathOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scaledRatio(splStakeFactor, tt.num, tt.den)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScaledRatio_TinyNumeratorIsZero(t *testing.T) {
	// 10^15 * 1 < 10^16: below one denominator unit
	got, err := scaledRatio(splStakeFactor, 1, 10_000_000_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestSplStake_Price(t *testing.T) {
	clock := testClock()
	pool := &StakePool{
		AccountType:     SplStakeAccountTypePool,
		TotalLamports:   100000,
		PoolTokenSupply: 200000,
		LastUpdateEpoch: clock.Epoch,
	}

	dp, err := GetPrice(domain.OracleTypeSplStake, pool.Encode(), clock)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if dp.Price.Value != 500_000_000_000_000 || dp.Price.Exp != SplStakeDecimals {
		t.Errorf("unexpected price: %+v", dp.Price)
	}
	if dp.LastUpdatedSlot != clock.Slot {
		t.Errorf("expected slot %d, got %d", clock.Slot, dp.LastUpdatedSlot)
	}
	if dp.Price.String() != "0.5" {
		t.Errorf("expected 0.5, got %s", dp.Price.String())
	}
}

func TestSplStake_Staleness(t *testing.T) {
	pool := &StakePool{
		AccountType:     SplStakeAccountTypePool,
		TotalLamports:   100000,
		PoolTokenSupply: 100000,
		LastUpdateEpoch: 9,
	}

	tests := []struct {
		name      string
		sinceOpen int64
		epoch     uint64
		wantErr   bool
	}{
		{"updated this epoch", 7200, 9, false},
		{"previous epoch within grace", 3599, 10, false},
		{"previous epoch at one hour", 3600, 10, true},
		{"previous epoch long after", 86400, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &solana.Clock{
				Slot:                5,
				Epoch:               tt.epoch,
				EpochStartTimestamp: 1_700_000_000,
				UnixTimestamp:       1_700_000_000 + tt.sinceOpen,
			}
			_, err := GetPrice(domain.OracleTypeSplStake, pool.Encode(), clock)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrPriceNotValid) {
					t.Errorf("expected ErrPriceNotValid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSplStake_WrongAccountType(t *testing.T) {
	pool := &StakePool{AccountType: 2, TotalLamports: 1, PoolTokenSupply: 1}

	_, err := GetPrice(domain.OracleTypeSplStake, pool.Encode(), testClock())
	if !errors.Is(err, domain.ErrUnexpectedAccount) {
		t.Errorf("expected ErrUnexpectedAccount, got %v", err)
	}
}

func TestPyth_Price(t *testing.T) {
	clock := testClock()
	record := NewPythPrice(2_500_000_000, -8, 1_000_000, 990)

	dp, err := GetPrice(domain.OracleTypePyth, record.Encode(), clock)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if dp.Price.Value != 2_500_000_000 || dp.Price.Exp != 8 {
		t.Errorf("unexpected price: %+v", dp.Price)
	}
	if dp.LastUpdatedSlot != 990 {
		t.Errorf("expected slot 990, got %d", dp.LastUpdatedSlot)
	}
	if dp.UnixTimestamp != uint64(clock.UnixTimestamp) {
		t.Errorf("expected clock timestamp, got %d", dp.UnixTimestamp)
	}
	if dp.Price.String() != "25" {
		t.Errorf("expected 25, got %s", dp.Price.String())
	}
}

func TestPyth_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *PythPrice)
		wantErr error
	}{
		{"bad magic", func(p *PythPrice) { p.Magic = 1 }, domain.ErrUnexpectedAccount},
		{"wrong version", func(p *PythPrice) { p.Version = 1 }, domain.ErrUnexpectedAccount},
		{"not a price account", func(p *PythPrice) { p.AccountType = 2 }, domain.ErrUnexpectedAccount},
		{"halted", func(p *PythPrice) { p.Status = PythStatusHalted }, domain.ErrPriceNotValid},
		{"too few publishers", func(p *PythPrice) { p.NumQuoters = 2 }, domain.ErrPriceNotValid},
		{"negative price", func(p *PythPrice) { p.Price = -5 }, domain.ErrPriceNotValid},
		{"wide confidence", func(p *PythPrice) { p.Conf = uint64(p.Price/50 + 1) }, domain.ErrPriceNotValid},
		{"positive exponent", func(p *PythPrice) { p.Expo = 2 }, domain.ErrPriceNotValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := NewPythPrice(1_000_000, -6, 100, 1)
			tt.mutate(record)
			err := Validate(domain.OracleTypePyth, record.Encode(), testClock())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPyth_ConfidenceAtLimit(t *testing.T) {
	record := NewPythPrice(1_000_000, -6, 20_000, 1)
	if err := Validate(domain.OracleTypePyth, record.Encode(), testClock()); err != nil {
		t.Errorf("confidence of exactly 2%% must be accepted: %v", err)
	}
}

func TestPyth_ShortAccount(t *testing.T) {
	err := Validate(domain.OracleTypePyth, make([]byte, 100), testClock())
	if !errors.Is(err, domain.ErrUnexpectedAccount) {
		t.Errorf("expected ErrUnexpectedAccount, got %v", err)
	}
}

func TestSwitchboardV1_Price(t *testing.T) {
	agg := &SwitchboardV1Aggregator{
		Version:          1,
		MinConfirmations: 3,
		NumSuccess:       3,
		Result:           123.456789,
		RoundOpenSlot:    777,
	}

	decoded, err := DecodeSwitchboardV1(agg.Encode())
	if err != nil {
		t.Fatalf("DecodeSwitchboardV1: %v", err)
	}
	if decoded.MinConfirmations != 3 || decoded.RoundOpenSlot != 777 {
		t.Errorf("unexpected decode: %+v", decoded)
	}

	dp, err := GetPrice(domain.OracleTypeSwitchboardV1, agg.Encode(), testClock())
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if dp.Price.Value != 12_345_678_900 || dp.Price.Exp != 8 {
		t.Errorf("unexpected price: %+v", dp.Price)
	}
	if dp.LastUpdatedSlot != 777 {
		t.Errorf("expected slot 777, got %d", dp.LastUpdatedSlot)
	}
}

func TestSwitchboardV1_NotEnoughConfirmations(t *testing.T) {
	agg := &SwitchboardV1Aggregator{MinConfirmations: 3, NumSuccess: 2, Result: 1}

	_, err := GetPrice(domain.OracleTypeSwitchboardV1, agg.Encode(), testClock())
	if !errors.Is(err, domain.ErrPriceNotValid) {
		t.Errorf("expected ErrPriceNotValid, got %v", err)
	}
}

func TestSwitchboardV1_WrongType(t *testing.T) {
	data := (&SwitchboardV1Aggregator{MinConfirmations: 1, NumSuccess: 1, Result: 1}).Encode()
	data[0] = 2

	_, err := GetPrice(domain.OracleTypeSwitchboardV1, data, testClock())
	if !errors.Is(err, domain.ErrUnexpectedAccount) {
		t.Errorf("expected ErrUnexpectedAccount, got %v", err)
	}
}

func TestSwitchboardV2_Price(t *testing.T) {
	agg := &SwitchboardV2Aggregator{
		MinOracleResults:   3,
		NumSuccess:         3,
		RoundOpenSlot:      880,
		RoundOpenTimestamp: 1_700_000_500,
		Result:             NewSwitchboardDecimal(1_234_500, 4),
		StdDeviation:       NewSwitchboardDecimal(10, 2),
	}

	dp, err := GetPrice(domain.OracleTypeSwitchboardV2, agg.Encode(), testClock())
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if dp.Price.Value != 1_234_500 || dp.Price.Exp != 4 {
		t.Errorf("unexpected price: %+v", dp.Price)
	}
	if dp.LastUpdatedSlot != 880 || dp.UnixTimestamp != 1_700_000_500 {
		t.Errorf("unexpected dating: %+v", dp)
	}
}

func TestSwitchboardV2_Int128RoundTrip(t *testing.T) {
	big128, _ := new(big.Int).SetString("-170141183460469231731687303715884105728", 10)
	agg := &SwitchboardV2Aggregator{Result: SwitchboardDecimal{Mantissa: big128, Scale: 3}}

	decoded, err := DecodeSwitchboardV2(agg.Encode())
	if err != nil {
		t.Fatalf("DecodeSwitchboardV2: %v", err)
	}
	if decoded.Result.Mantissa.Cmp(big128) != 0 || decoded.Result.Scale != 3 {
		t.Errorf("expected %s, got %s", big128, decoded.Result.Mantissa)
	}
}

func TestSwitchboardV2_Rejections(t *testing.T) {
	huge, _ := new(big.Int).SetString("100000000000000000000000000", 10)

	tests := []struct {
		name    string
		agg     SwitchboardV2Aggregator
		wantErr error
	}{
		{
			name:    "not enough oracle results",
			agg:     SwitchboardV2Aggregator{MinOracleResults: 3, NumSuccess: 1, Result: NewSwitchboardDecimal(100, 0)},
			wantErr: domain.ErrPriceNotValid,
		},
		{
			name:    "negative result",
			agg:     SwitchboardV2Aggregator{Result: NewSwitchboardDecimal(-1, 0)},
			wantErr: domain.ErrPriceNotValid,
		},
		{
			name: "deviation above two percent",
			agg: SwitchboardV2Aggregator{
				Result:       NewSwitchboardDecimal(100, 0),
				StdDeviation: NewSwitchboardDecimal(21, 1),
			},
			wantErr: domain.ErrPriceNotValid,
		},
		{
			name:    "mantissa beyond u64 without scale",
			agg:     SwitchboardV2Aggregator{Result: SwitchboardDecimal{Mantissa: huge, Scale: 0}},
			wantErr: domain.ErrMathOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GetPrice(domain.OracleTypeSwitchboardV2, tt.agg.Encode(), testClock())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSwitchboardV2_RescalesWideMantissa(t *testing.T) {
	huge, _ := new(big.Int).SetString("100000000000000000000000000", 10) // 10^26
	agg := &SwitchboardV2Aggregator{Result: SwitchboardDecimal{Mantissa: huge, Scale: 20}}

	dp, err := GetPrice(domain.OracleTypeSwitchboardV2, agg.Encode(), testClock())
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if dp.Price.String() != "1000000" {
		t.Errorf("expected 1000000, got %s (%+v)", dp.Price.String(), dp.Price)
	}
}

func TestSwitchboardV2_ScaleBeyondMaximum(t *testing.T) {
	tests := []struct {
		name string
		agg  SwitchboardV2Aggregator
	}{
		{"result", SwitchboardV2Aggregator{Result: NewSwitchboardDecimal(100, SwitchboardMaxScale+1)}},
		{"std deviation", SwitchboardV2Aggregator{
			Result:       NewSwitchboardDecimal(100, 2),
			StdDeviation: NewSwitchboardDecimal(1, 50_000_000),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan error, 1)
			go func() {
				done <- Validate(domain.OracleTypeSwitchboardV2, tt.agg.Encode(), testClock())
			}()
			select {
			case err := <-done:
				if !errors.Is(err, domain.ErrUnexpectedAccount) {
					t.Errorf("expected ErrUnexpectedAccount, got %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("validation did not return for an oversized scale")
			}
		})
	}

	// The largest legal scale still prices
	agg := &SwitchboardV2Aggregator{Result: NewSwitchboardDecimal(5, SwitchboardMaxScale)}
	if err := Validate(domain.OracleTypeSwitchboardV2, agg.Encode(), testClock()); err != nil {
		t.Errorf("scale %d must be accepted: %v", SwitchboardMaxScale, err)
	}
}

func TestSwitchboardV2_BadDiscriminator(t *testing.T) {
	data := (&SwitchboardV2Aggregator{Result: NewSwitchboardDecimal(1, 0)}).Encode()
	data[0] ^= 0xff

	_, err := GetPrice(domain.OracleTypeSwitchboardV2, data, testClock())
	if !errors.Is(err, domain.ErrUnexpectedAccount) {
		t.Errorf("expected ErrUnexpectedAccount, got %v", err)
	}
}

func TestGetPrice_UnknownType(t *testing.T) {
	_, err := GetPrice(domain.OracleType(42), nil, testClock())
	if !errors.Is(err, domain.ErrUnknownOracleType) {
		t.Errorf("expected ErrUnknownOracleType, got %v", err)
	}
}
