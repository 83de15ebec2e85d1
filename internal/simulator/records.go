package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/datacure/livejobs/internal/model"
)

// Agents run in this order. Each gets an equal share of the records.
var Agents = []string{"NPI Validator", "Address Geocoding", "License Verification", "Specialty Match"}

var (
	providerNames = []string{
		"Dr. Anil Sharma", "Dr. Priya Mehta", "Dr. Rahul Verma", "Dr. Neha Iyer",
		"Dr. Arjun Singh", "Dr. Kavita Rao", "Dr. Suresh Patel", "Dr. Pooja Nair",
	}
	specialties = []string{
		"Cardiology", "Dermatology", "Orthopedics", "Pediatrics", "Neurology",
		"General Medicine", "Oncology", "Psychiatry",
	}
	cities = []string{
		"Bengaluru, Karnataka", "Mumbai, Maharashtra", "Delhi, Delhi",
		"Chennai, Tamil Nadu", "Hyderabad, Telangana", "Pune, Maharashtra",
	}
	streets = []string{"MG Road", "Main Street", "Ring Road", "Park Street"}
)

// generateRecords builds total records for jobID. Roughly 60% auto-approve,
// 30% manual review, 10% reject.
func generateRecords(rng *rand.Rand, jobID string, total int, now time.Time) []model.Record {
	records := make([]model.Record, total)
	for i := range records {
		var confidence float64
		var rec model.Recommendation
		var severity string

		switch r := rng.Float64(); {
		case r < 0.6:
			confidence, rec, severity = uniform(rng, 0.95, 0.99), model.RecommendAutoApprove, "low"
		case r < 0.9:
			confidence, rec, severity = uniform(rng, 0.85, 0.94), model.RecommendManualReview, "medium"
		default:
			confidence, rec, severity = uniform(rng, 0.70, 0.84), model.RecommendReject, "high"
		}

		original := math.Max(0.5, round2(confidence-uniform(rng, 0.05, 0.15)))
		license := "Active"
		if rng.Float64() < 0.05 {
			license = "Pending"
		}

		records[i] = model.Record{
			ID:                 fmt.Sprintf("%s-rec-%04d", jobID, i),
			Name:               pick(rng, providerNames),
			NPI:                fmt.Sprintf("%d", 1_000_000_000+rng.Int64N(9_000_000_000)),
			Address:            fmt.Sprintf("%d %s, %s", 1+rng.IntN(999), pick(rng, streets), pick(rng, cities)),
			Phone:              fmt.Sprintf("+91-%05d%05d", 70000+rng.IntN(30000), 10000+rng.IntN(90000)),
			Specialty:          pick(rng, specialties),
			LicenseStatus:      license,
			OriginalConfidence: &original,
			OverallConfidence:  round2(confidence),
			NPIConfidence:      round2(confidence + uniform(rng, -0.05, 0.05)),
			AddressConfidence:  round2(confidence + uniform(rng, -0.08, 0.03)),
			LicenseConfidence:  round2(confidence + uniform(rng, -0.03, 0.05)),
			Recommendation:     rec,
			Severity:           severity,
			ValidatedAt:        now.Format(time.RFC3339),
			AgentsInvolved:     Agents,
		}
	}
	return records
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func pick(rng *rand.Rand, from []string) string {
	return from[rng.IntN(len(from))]
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
