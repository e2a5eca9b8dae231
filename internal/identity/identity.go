// Package identity derives deterministic UUID v5 identifiers for payers,
// organizations, providers, and rates. Identity is a pure function of the
// normalized inputs, so reruns over identical source bytes produce identical
// ids.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Category namespaces are themselves UUID5 of "healthcare.<category>" under
// the DNS namespace.
var (
	nsPayers        = namespace("payers")
	nsOrganizations = namespace("organizations")
	nsProviders     = namespace("providers")
	nsRates         = namespace("rates")
)

func namespace(category string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("healthcare."+category))
}

// derive joins the components with | and hashes into the category namespace.
// Empty components are legal and significant.
func derive(ns uuid.UUID, components ...string) string {
	return uuid.NewSHA1(ns, []byte(strings.Join(components, "|"))).String()
}

// Payer identifies a payer by name and optional parent organization.
func Payer(name, parent string) string {
	return derive(nsPayers, name, parent)
}

// Organization identifies a billing entity by TIN and name.
func Organization(tin, name string) string {
	return derive(nsOrganizations, tin, name)
}

// Provider identifies an individual or group by NPI.
func Provider(npi string) string {
	return derive(nsProviders, npi)
}

// Rate identifies one negotiated price observation. formattedRate is the
// two-decimal rendering of the rate.
func Rate(payerUUID, orgUUID, serviceCode, formattedRate, expirationDate string) string {
	return derive(nsRates, payerUUID, orgUUID, serviceCode, formattedRate, expirationDate)
}
