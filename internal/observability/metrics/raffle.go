package metrics

import (
	"math/big"
)

// RaffleEnter records an entry attempt.
func RaffleEnter(status string) {
	if !enabled {
		return
	}
	raffleEnterTotal.WithLabelValues(status).Inc()
}

// RaffleUpkeep records a round closure attempt.
func RaffleUpkeep(result string) {
	if !enabled {
		return
	}
	raffleUpkeepTotal.WithLabelValues(result).Inc()
}

// RaffleFulfill records a randomness delivery to the raffle.
func RaffleFulfill(result string) {
	if !enabled {
		return
	}
	raffleFulfillTotal.WithLabelValues(result).Inc()
}

// RafflePlayers sets the current round size.
func RafflePlayers(n int) {
	if !enabled {
		return
	}
	rafflePlayers.Set(float64(n))
}

// RafflePayout adds a winner payout, in wei.
func RafflePayout(amount *big.Int) {
	if !enabled || amount == nil {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	rafflePayoutWei.Add(f)
}

// VRFRequest records a randomness request transition (requested, fulfilled, failed).
func VRFRequest(status string) {
	if !enabled {
		return
	}
	vrfRequestsTotal.WithLabelValues(status).Inc()
}
