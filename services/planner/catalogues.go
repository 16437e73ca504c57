// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

// The phrase catalogues below are the static configuration of the classifier.
// They are matched by unanchored substring containment over the case-folded
// query. Keep every entry lowercase; Classify lowercases the query once and
// never lowercases the catalogue at match time.

// injectionCatalogue lists phrases that indicate an attempt to manipulate the
// system itself: overriding instructions, assuming privileged roles, or
// extracting internal state such as prompts and policies.
var injectionCatalogue = []string{
	// Ignore/override/bypass commands
	"ignore all previous",
	"ignore previous",
	"ignore any previous",
	"ignore instructions",
	"ignore all instructions",
	"ignore the previous",
	"ignore system",
	"ignore policy",
	"ignore protocols",
	"override policy",
	"override guard",
	"override the policy",
	"override the guard",
	"override any",
	"bypass policy",
	"bypass guard",
	"bypass injection",
	"bypass detection",
	"bypass safety",
	"bypass any",
	"disable policy",
	"disable guard",
	"disable detection",
	"disable safety",

	// Role-playing to gain system authority (not social roles like HR)
	"act as system",
	"act as developer",
	"act as admin",
	"act as a system",
	"act as a developer",
	"act as a admin",
	"act as administrator",
	"pose as system",
	"pose as developer",
	"pose as admin",
	"simulate a system",
	"simulate a developer",
	"simulate system",
	"simulate administrator",
	"emulate a system",
	"emulate system",
	"mimic a system",
	"impersonate a system",
	"impersonate system",
	"pretend to be system",
	"pretend to be developer",
	"pretend to be admin",
	"pretend you are system",
	"pretend you are developer",

	// System internals extraction (system/policy related, not user data)
	"reveal system",
	"show system",
	"print system",
	"dump system",
	"export system",
	"reveal prompt",
	"show prompt",
	"print prompt",
	"dump prompt",
	"print all hidden",
	"reveal hidden",
	"show hidden",
	"show tools",
	"show policies",
	"reveal policies",
	"print policies",

	// Bulk extraction verbs that target the system rather than a document
	"extract all",
	"release all",

	// Privilege escalation
	"developer mode",
	"debug mode",
	"admin mode",
	"sudo",
	"root",
	"privileged",

	// Authority claims (common social-engineering framings)
	"authorized by",
	"approved by director",
	"urgent bug fix",
	"critical step",
	"security patch",
}

// leakageCatalogue lists phrases that request PII unmasking or bulk exposure
// of personal data. A match raises the advisory leakage flag; it does not by
// itself refuse the query.
var leakageCatalogue = []string{
	// PII unmasking/extraction
	"unmask pii",
	"unmask data",
	"unmasked extraction",
	"unmasked data",
	"remove redact",
	"remove mask",
	"show full cnic",
	"show cnic",
	"show phone number",
	"show phone",
	"remove redactions",
	"bypass mask",
	"disable pii",
	"disable masking",
	"show unmasked",
	"without mask",
	"without redact",
	"unredacted",
	"mask nothing",
	"no mask",
	"no redact",

	// User data and memory dumps (conversation history, not system internals)
	"dump memory",
	"dump the memory",
	"dump buffer",
	"dump the buffer",
	"dump history",
	"dump all data",
	"dump cnic",
	"dump cnics",
	"dump phone",
	"export memory",
	"export buffer",
	"export history",
	"reveal confidential",
	"reveal private",
	"reveal the confidential",
	"reveal the private",
	"show confidential",
	"show private",

	// PII exposure verbs
	"extract all cnic",
	"extract and list",
	"extract cnic",
	"list all cnic",
	"list all phone",
	"list cnic",
	"list cnics",
	"list phone",
	"list phone number",
	"list phone numbers",
	"share private phone",
	"share private number",
	"share the private",
	"exfiltrate and share",
	"exfiltrate phone",
	"exfiltrate cnic",
	"release all masked",
	"release masked pii",
	"release all pii",
	"release pii",
	"share private",
	"expose pii",
	"expose private",
	"extraction of all phone",
	"extraction of phone",
	"extraction of cnic",
	"retrieve all pii",
	"retrieve pii",
	"reveal contacts",
	"reveal phone",

	// Social engineering for data (role-play to obtain information)
	"pose as a",
	"pose as an",
	"acting as a",
	"acting as an",
	"emulate a",
	"emulate an",
	"mimic a",
	"mimic an",
	"impersonate a",
	"impersonate an",
	"simulate a",
	"present yourself as a",
}

// crossTenantMarkers returns the possessive/locative phrase set that flags a
// query as reaching for another tenant's data. All returned phrases are
// lowercase; the tenant argument must already be lowercased.
//
// The final two entries ("for all tenants", "all tenants") are independent of
// the specific tenant but are kept inside the per-tenant set so that a bulk
// request is prohibited exactly when at least one non-active tenant exists.
func crossTenantMarkers(tenant string) []string {
	return []string{
		tenant + "'s private",
		tenant + "'s data",
		tenant + "'s dataset",
		"for " + tenant,
		"from " + tenant,
		"in " + tenant,
		"about " + tenant,
		"of " + tenant,
		tenant + " private",
		tenant + " data",
		tenant + " dataset",
		"dataset in " + tenant,
		"datasets in " + tenant,
		"data in " + tenant,
		"notebook in " + tenant,
		"notebooks in " + tenant,
		"information in " + tenant,
		"information about " + tenant,
		"give me " + tenant,
		"show me " + tenant,
		"tell me about " + tenant,
		"for all tenants",
		"all tenants",
	}
}

// DefaultTenants is the closed tenant set the gate ships with. The "public"
// pseudo-tenant is not part of this set; it is a visibility domain, not an
// identity.
var DefaultTenants = []string{"U1", "U2", "U3", "U4"}
