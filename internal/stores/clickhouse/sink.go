package clickhouse

import (
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/domain"
)

const saleEventSchemaVersion = 1

// SaleSink adapts the batch writer to the settlement event sink. Enqueue is
// lossy under backpressure; analytics rows are not the system of record.
type SaleSink struct {
	log logger.Logger
	w   *Writer
}

func NewSaleSink(log logger.Logger, w *Writer) *SaleSink {
	return &SaleSink{log: log, w: w}
}

func (s *SaleSink) Record(st *domain.Settlement, deferred bool) {
	row := SaleEventRow{
		EventTime:     st.SettledAt,
		TxHash:        st.Hash,
		WalletAddress: st.WalletAddress,
		Currency:      string(st.Currency),
		AmountUSD:     st.AmountUSD.String(),
		TokenAmount:   st.TokenAmount.String(),
		RewardAmount:  st.RewardAmount.String(),
		PriceUSD:      st.PriceUSD.String(),
		BlockNumber:   st.BlockNumber,
		Deferred:      deferred,
		SchemaVersion: saleEventSchemaVersion,
	}

	if err := s.w.Enqueue(row); err != nil {
		s.log.Warnf("sale event dropped hash=%s: %v", st.Hash, err)
	}
}
