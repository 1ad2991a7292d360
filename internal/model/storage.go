package model

// StorageData describes one DDM endpoint's configuration, per spec §3.
// Grounded on original_source/pilot/info/storagedata.py's StorageData,
// with the ext-source translation layer (kmap/_load_data) dropped — XML/AGIS
// parsing is explicitly out of scope (spec.md §1); this module receives
// already-parsed StorageData values from its caller.
type StorageData struct {
	Name            string
	Type            string
	Token           string
	IsDeterministic bool

	// ARProtocols maps an activity name (e.g. "pr", "pw") to the ordered
	// list of protocols available for that activity.
	ARProtocols map[string][]Protocol
	// RProtocols maps a protocol id (stringified) to its Protocol.
	RProtocols map[string]Protocol
	// SpecialSetup maps a protocol id to shell export commands required
	// before using it (e.g. S3 access/secret key exports for object
	// stores) — see storagedata.py's get_special_setup.
	SpecialSetup map[string]string
}

// Config is the read-only, process-wide storage/queue configuration handed
// to the Replica Resolver and Staging Engine at startup. It replaces the
// original pilot's mutable process-wide "infosys" singleton (spec.md §9's
// "mutable process-wide singletons" design note) with an explicit value
// passed by reference and never mutated after construction.
type Config struct {
	// Endpoints maps a DDM endpoint name to its StorageData.
	Endpoints map[string]StorageData

	// ACopytools maps an activity name to the prioritized list of
	// copytool names configured for that activity (spec §4.3).
	ACopytools map[string][]string

	// DDMActivityAlias maps a pilot-level activity name to the DDM
	// activity name used to index StorageData.ARProtocols (spec §4.3
	// step 3's "mapped through a DDM-activity alias table").
	DDMActivityAlias map[string]string

	// DirectAccessLAN / DirectAccessWAN are queue-level flags consulted
	// by the Staging Engine's direct-access policy (spec §4.3).
	DirectAccessLAN bool
	DirectAccessWAN bool

	// ReadLAN is the default InputDDMs list used when a job does not
	// specify one (spec.md §9 Open Question #2 — this repo resolves the
	// ambiguity in favour of ReadLAN over astorages.pr).
	ReadLAN []string
}

// Resolve looks up a DDM endpoint by name.
func (c *Config) Resolve(ddmendpoint string) (StorageData, bool) {
	sd, ok := c.Endpoints[ddmendpoint]
	return sd, ok
}

// DDMActivity translates a pilot activity name to its DDM-level alias,
// falling back to the name itself when no alias is configured.
func (c *Config) DDMActivity(activity string) string {
	if alias, ok := c.DDMActivityAlias[activity]; ok {
		return alias
	}
	return activity
}
