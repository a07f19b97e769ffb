package tiles

import "fmt"

// MemoryStats contains the manager's memory accounting after the last
// pass or completion.
type MemoryStats struct {
	// TotalBudgetBytes is the memory limit of the last pass.
	TotalBudgetBytes uint64 `yaml:"total_budget_bytes"`

	// BytesAllocated is the memory held by bound and in-flight resources.
	BytesAllocated uint64 `yaml:"bytes_allocated"`

	// BytesUnreleasable is the memory held by in-flight raster tasks. It
	// cannot be evicted until the tasks complete.
	BytesUnreleasable uint64 `yaml:"bytes_unreleasable"`

	// BytesOverBudget is how far the allocation exceeds the budget. It is
	// only non-zero while in-flight tasks outlive a lowered limit.
	BytesOverBudget uint64 `yaml:"bytes_over_budget"`

	// ResourceCount is the number of bound and in-flight resources.
	ResourceCount int `yaml:"resource_count"`

	// EvictionCount counts resources evicted since the manager was created.
	EvictionCount uint64 `yaml:"eviction_count"`

	// StarvedTiles is the number of tiles left without memory in the last
	// pass.
	StarvedTiles int `yaml:"starved_tiles"`
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	used := 0.0
	if s.TotalBudgetBytes > 0 {
		used = float64(s.BytesAllocated) / float64(s.TotalBudgetBytes) * 100
	}
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, %d resources, %d evictions, %d starved]",
		used,
		s.BytesAllocated/1024,
		s.TotalBudgetBytes/1024,
		s.ResourceCount,
		s.EvictionCount,
		s.StarvedTiles)
}

// RasterTaskCompletionStats counts raster task outcomes since the manager
// was created.
type RasterTaskCompletionStats struct {
	// Completed counts tasks that produced content.
	Completed uint64 `yaml:"completed"`

	// Canceled counts tasks that completed without running.
	Canceled uint64 `yaml:"canceled"`

	// Failed counts tasks that reported an error.
	Failed uint64 `yaml:"failed"`

	// Discarded counts results thrown away because their tile was released,
	// invalidated or no longer wanted.
	Discarded uint64 `yaml:"discarded"`
}

// String returns a human-readable string of completion stats.
func (s RasterTaskCompletionStats) String() string {
	return fmt.Sprintf("Tasks[%d completed, %d canceled, %d failed, %d discarded]",
		s.Completed, s.Canceled, s.Failed, s.Discarded)
}

// BasicState is a snapshot of the manager for dumps and debugging.
type BasicState struct {
	TileCount          int                       `yaml:"tile_count"`
	Passes             uint64                    `yaml:"passes"`
	GlobalState        GlobalState               `yaml:"global_state"`
	Memory             MemoryStats               `yaml:"memory"`
	Completion         RasterTaskCompletionStats `yaml:"completion"`
	ReadyToActivate    bool                      `yaml:"ready_to_activate"`
	AllTilesHaveMemory bool                      `yaml:"all_tiles_have_memory"`
	TasksInFlight      int                       `yaml:"tasks_in_flight"`
}
