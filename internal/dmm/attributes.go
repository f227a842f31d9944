package dmm

// Attribute identifies a cached instrument setting. The set is closed:
// every attribute is declared here and bound to its typed accessor pair
// in the driver; nothing registers attributes at runtime.
type Attribute string

const (
	AttrFunction         Attribute = "measurement.function"
	AttrRange            Attribute = "range"
	AttrAutoRange        Attribute = "auto_range"
	AttrDigits           Attribute = "digits"
	AttrNPLC             Attribute = "nplc"
	AttrFilterEnabled    Attribute = "filter.enabled"
	AttrFilterType       Attribute = "filter.type"
	AttrFilterCount      Attribute = "filter.count"
	AttrContinuous       Attribute = "measurement.continuous"
	AttrTriggerSource    Attribute = "trigger.source"
	AttrTriggerDelay     Attribute = "trigger.delay"
	AttrTriggerDelayAuto Attribute = "trigger.delay_auto"
	AttrSampleCount      Attribute = "multipoint.sample_count"
	AttrTriggerCount     Attribute = "multipoint.trigger_count"
)

// Attributes lists every cached setting in a stable order.
func Attributes() []Attribute {
	return []Attribute{
		AttrFunction, AttrRange, AttrAutoRange, AttrDigits, AttrNPLC,
		AttrFilterEnabled, AttrFilterType, AttrFilterCount,
		AttrContinuous,
		AttrTriggerSource, AttrTriggerDelay, AttrTriggerDelayAuto,
		AttrSampleCount, AttrTriggerCount,
	}
}

// functionDependents is the closed set of attributes whose cache goes
// stale when the measurement function changes. Extend this list whenever
// a new function-scoped attribute family is added.
var functionDependents = []Attribute{
	AttrRange,
	AttrAutoRange,
	AttrDigits,
	AttrNPLC,
	AttrFilterEnabled,
	AttrFilterType,
	AttrFilterCount,
}

// Value domains.
const (
	minDigits      = 4
	maxDigits      = 7
	minNPLC        = 0.01
	maxNPLC        = 10.0
	minFilterCount = 1
	maxFilterCount = 100
	minSampleCount = 1
	maxSampleCount = 1024
	minTrigCount   = 1
	maxTrigCount   = 9999
)
