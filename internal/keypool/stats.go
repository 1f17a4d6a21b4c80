// Read-only projections of pool state for the status surface.
package keypool

import "time"

type endpointStats struct {
	success uint64
	fail    uint64
}

// RecordStats is one credential as shown to operators.
type RecordStats struct {
	Index        int        `json:"index"`
	Key          string     `json:"key"`
	Success      uint64     `json:"success"`
	Fail         uint64     `json:"fail"`
	Total        uint64     `json:"total"`
	SuccessRate  float64    `json:"successRate"`
	Deprecated   bool       `json:"deprecated"`
	DeprecatedAt *time.Time `json:"deprecatedAt,omitempty"`
	Skipped      bool       `json:"skipped"`
	Balance      *Balance   `json:"balance,omitempty"`
}

// EndpointStats aggregates outcomes per upstream endpoint.
type EndpointStats struct {
	Endpoint    string  `json:"endpoint"`
	Success     uint64  `json:"success"`
	Fail        uint64  `json:"fail"`
	Total       uint64  `json:"total"`
	SuccessRate float64 `json:"successRate"`
}

// Stats is a consistent snapshot of the pool.
type Stats struct {
	Algorithm               string          `json:"algorithm"`
	RemoveOnPaymentRequired bool            `json:"removeOn402"`
	SkipThreshold           float64         `json:"skipThreshold"`
	ActiveRecords           []RecordStats   `json:"activeKeys"`
	DeprecatedRecords       []RecordStats   `json:"deprecatedKeys"`
	Endpoints               []EndpointStats `json:"endpoints"`
}

// Stats returns a snapshot with masked secrets.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Algorithm:               p.algorithm,
		RemoveOnPaymentRequired: p.removeOn402,
		SkipThreshold:           p.skipThreshold,
		ActiveRecords:           []RecordStats{},
		DeprecatedRecords:       []RecordStats{},
		Endpoints:               make([]EndpointStats, 0, len(p.endpointOrder)),
	}

	for i, r := range p.records {
		rs := RecordStats{
			Index:       i,
			Key:         MaskSecret(r.secret),
			Success:     r.success,
			Fail:        r.fail,
			Total:       r.success + r.fail,
			SuccessRate: successRate(r.success, r.fail),
			Deprecated:  r.deprecated,
		}
		if r.balance != nil {
			b := *r.balance
			rs.Balance = &b
		}
		if r.deprecated {
			at := r.deprecatedAt
			rs.DeprecatedAt = &at
			s.DeprecatedRecords = append(s.DeprecatedRecords, rs)
			continue
		}
		rs.Skipped = !p.eligibleLocked(r)
		s.ActiveRecords = append(s.ActiveRecords, rs)
	}

	for _, name := range p.endpointOrder {
		es := p.endpoints[name]
		s.Endpoints = append(s.Endpoints, EndpointStats{
			Endpoint:    name,
			Success:     es.success,
			Fail:        es.fail,
			Total:       es.success + es.fail,
			SuccessRate: successRate(es.success, es.fail),
		})
	}
	return s
}

func successRate(success, fail uint64) float64 {
	total := success + fail
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}
