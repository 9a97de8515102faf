// internal/services/fee_service.go
package services

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/homeplate/homeplate-backend/internal/models"
)

// FeeSchedule is the in-memory copy of the active schedule version. It is
// read-only after load; pricing changes ship as a new version row.
type FeeSchedule struct {
	Version         int
	MaxFeeFraction  float64
	PackageDiscount float64
	BaseFees        map[string]float64
}

type FeeBreakdown struct {
	PerServiceFee   map[string]float64 `json:"per_service_fee"`
	TotalServiceFee float64            `json:"total_service_fee"`
}

type FeeService struct {
	db       *gorm.DB
	mu       sync.RWMutex
	schedule *FeeSchedule
}

func NewFeeService(db *gorm.DB) (*FeeService, error) {
	s := &FeeService{db: db}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload swaps in the currently active schedule version.
func (s *FeeService) Reload() error {
	var version models.FeeScheduleVersion
	err := s.db.Preload("Entries").Where("active = ?", true).
		Order("version DESC").First(&version).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFeeScheduleNotLoaded, err)
	}

	schedule := &FeeSchedule{
		Version:         version.Version,
		MaxFeeFraction:  version.MaxFeeFraction,
		PackageDiscount: version.PackageDiscount,
		BaseFees:        make(map[string]float64, len(version.Entries)),
	}
	for _, entry := range version.Entries {
		schedule.BaseFees[entry.ServiceID] = entry.BaseFee
	}

	s.mu.Lock()
	s.schedule = schedule
	s.mu.Unlock()
	return nil
}

func (s *FeeService) Schedule() *FeeSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// PackagePrice applies the bundled-meal discount to the component sum.
func (s *FeeService) PackagePrice(componentSum float64) float64 {
	return componentSum * (1 - s.Schedule().PackageDiscount)
}

// Compute prices the selected services against the active schedule. The
// total is capped at mealPrice x MaxFeeFraction; overage is scaled down
// proportionally so the relative weighting between services is preserved.
// Pure with respect to its inputs and the loaded schedule.
func (s *FeeService) Compute(mealPrice float64, selectedServices []string) (*FeeBreakdown, error) {
	schedule := s.Schedule()
	if schedule == nil {
		return nil, ErrFeeScheduleNotLoaded
	}

	// Set semantics: a service selected twice is charged once.
	seen := make(map[string]bool, len(selectedServices))
	perService := make(map[string]float64, len(selectedServices))
	total := 0.0

	for _, id := range selectedServices {
		if seen[id] {
			continue
		}
		seen[id] = true

		baseFee, ok := schedule.BaseFees[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidServiceID, id)
		}
		perService[id] = baseFee
		total += baseFee
	}

	capAmount := mealPrice * schedule.MaxFeeFraction
	if total > capAmount && total > 0 {
		scale := capAmount / total
		for id := range perService {
			perService[id] *= scale
		}
		total = capAmount
	}

	return &FeeBreakdown{
		PerServiceFee:   perService,
		TotalServiceFee: total,
	}, nil
}

// CatalogServiceIDs lists the services priced by the active schedule, for
// clients building a selection UI.
func (s *FeeService) CatalogServiceIDs() []string {
	schedule := s.Schedule()
	if schedule == nil {
		return nil
	}
	ids := make([]string, 0, len(schedule.BaseFees))
	for id := range schedule.BaseFees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
