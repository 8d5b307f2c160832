package changedetect

// Cascade tuning.
const (
	// SampleGrid is the edge of the tier 1 sample lattice (SampleGrid² samples).
	SampleGrid = 32

	// WindowSamples is the edge of the centered window compared by SampledWindow.
	WindowSamples = 16

	// BrightnessTolerance is the per-sample luminance delta, as a fraction of
	// full scale, above which a sample counts as changed.
	BrightnessTolerance = 0.05

	// Tier 1 reports changed outright when this fraction of samples differ.
	// It reports unchanged only for byte-identical frames.
	Tier1ChangedFraction = 0.5

	// Tier 2 reports changed at or above this difference-hash distance.
	// Smaller distances say nothing about a replaced text line.
	Tier2ChangedDistance = 20

	// Tier 3 compares every BlockStep-th pixel in each of BlockGrid² blocks.
	// A block changed when BlockSampleFraction of its samples differ; the
	// frame changed when DefaultBlockPercent of blocks did (one block).
	BlockGrid           = 16
	BlockStep           = 2
	BlockSampleFraction = 0.005
	DefaultBlockPercent = 1.0 / (BlockGrid * BlockGrid)

	hashBits = 64
)
