package mockoracle

import (
	"math"

	"github.com/vuittont60/scope/internal/solana"
)

func newInstruction(programID, payer, record solana.Pubkey, data []byte) solana.Instruction {
	return solana.Instruction{
		ProgramID: programID,
		Accounts: []solana.AccountMeta{
			solana.Meta(payer, true, false),
			solana.Meta(record, false, true),
		},
		Data: data,
	}
}

// NewInitPythInstruction writes a trading Pyth price record.
func NewInitPythInstruction(programID, payer, record solana.Pubkey, price int64, expo int32, conf uint64) solana.Instruction {
	data := []byte{TagInitPyth}
	data = le.AppendUint64(data, uint64(price))
	data = le.AppendUint32(data, uint32(expo))
	data = le.AppendUint64(data, conf)
	return newInstruction(programID, payer, record, data)
}

// NewSetPythPriceInstruction updates the aggregate price of a Pyth record.
func NewSetPythPriceInstruction(programID, payer, record solana.Pubkey, price int64) solana.Instruction {
	return newInstruction(programID, payer, record, le.AppendUint64([]byte{TagSetPythPrice}, uint64(price)))
}

// NewSetPythTradingInstruction sets the aggregate status of a Pyth record.
func NewSetPythTradingInstruction(programID, payer, record solana.Pubkey, status uint32) solana.Instruction {
	return newInstruction(programID, payer, record, le.AppendUint32([]byte{TagSetPythTrading}, status))
}

// NewSetPythTwapInstruction sets the time-weighted average price of a Pyth record.
func NewSetPythTwapInstruction(programID, payer, record solana.Pubkey, twap int64) solana.Instruction {
	return newInstruction(programID, payer, record, le.AppendUint64([]byte{TagSetPythTwap}, uint64(twap)))
}

// NewSetPythConfidenceInstruction sets the confidence interval of a Pyth record.
func NewSetPythConfidenceInstruction(programID, payer, record solana.Pubkey, conf uint64) solana.Instruction {
	return newInstruction(programID, payer, record, le.AppendUint64([]byte{TagSetPythConfidence}, conf))
}

// NewSetSwitchboardV1Instruction writes a Switchboard v1 aggregator with a confirmed round.
func NewSetSwitchboardV1Instruction(programID, payer, record solana.Pubkey, result float64, minConfirmations, numSuccess uint32) solana.Instruction {
	data := []byte{TagSetSwitchboardV1}
	data = le.AppendUint64(data, math.Float64bits(result))
	data = le.AppendUint32(data, minConfirmations)
	data = le.AppendUint32(data, numSuccess)
	return newInstruction(programID, payer, record, data)
}

// NewSetSwitchboardV2Instruction writes a Switchboard v2 aggregator. The result
// and its standard deviation share scale.
func NewSetSwitchboardV2Instruction(programID, payer, record solana.Pubkey, mantissa int64, scale uint32, stdMantissa int64, numSuccess, minOracleResults uint32) solana.Instruction {
	data := []byte{TagSetSwitchboardV2}
	data = le.AppendUint64(data, uint64(mantissa))
	data = le.AppendUint32(data, scale)
	data = le.AppendUint64(data, uint64(stdMantissa))
	data = le.AppendUint32(data, numSuccess)
	data = le.AppendUint32(data, minOracleResults)
	return newInstruction(programID, payer, record, data)
}

// NewSetStakePoolInstruction writes an SPL stake pool record.
func NewSetStakePoolInstruction(programID, payer, record solana.Pubkey, totalLamports, poolTokenSupply, lastUpdateEpoch uint64) solana.Instruction {
	data := []byte{TagSetStakePool}
	data = le.AppendUint64(data, totalLamports)
	data = le.AppendUint64(data, poolTokenSupply)
	data = le.AppendUint64(data, lastUpdateEpoch)
	return newInstruction(programID, payer, record, data)
}
