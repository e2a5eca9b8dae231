package emit

// Parquet row schemas for the three output tables. UUIDs are canonical
// lowercase strings; arrays become list columns and nested objects become
// struct columns.

// PlanDetails carries the plan metadata from the ToC structure that
// referenced the source file.
type PlanDetails struct {
	PlanName   string `parquet:"plan_name,optional"`
	PlanID     string `parquet:"plan_id,optional"`
	PlanType   string `parquet:"plan_type,optional"`
	MarketType string `parquet:"market_type,optional"`
}

// ContractPeriod bounds the validity of a negotiated rate.
type ContractPeriod struct {
	EffectiveDate  string `parquet:"effective_date,optional"`
	ExpirationDate string `parquet:"expiration_date,optional"`
}

// ProviderNetwork summarizes the providers a rate applies to.
type ProviderNetwork struct {
	NPIList      []string `parquet:"npi_list,list"`
	NPICount     int32    `parquet:"npi_count"`
	CoverageType string   `parquet:"coverage_type,optional"`
}

// DataLineage records where and when a row was extracted.
type DataLineage struct {
	SourceURL         string `parquet:"source_url"`
	SourceURLHash     string `parquet:"source_url_hash"`
	ExtractedAt       string `parquet:"extracted_at"`
	ProcessingVersion string `parquet:"processing_version"`
}

// QualityFlags is the validator verdict stored alongside each rate.
type QualityFlags struct {
	IsValidated     bool    `parquet:"is_validated"`
	HasConflicts    bool    `parquet:"has_conflicts"`
	ConfidenceScore float64 `parquet:"confidence_score"`
	Notes           string  `parquet:"notes,optional"`
}

// RateRow is one negotiated price observation.
type RateRow struct {
	RateUUID         string `parquet:"rate_uuid"`
	PayerUUID        string `parquet:"payer_uuid"`
	OrganizationUUID string `parquet:"organization_uuid"`

	ServiceCode        string  `parquet:"service_code"`
	ServiceDescription string  `parquet:"service_description,optional"`
	BillingCodeType    string  `parquet:"billing_code_type,optional"`
	NegotiatedRate     float64 `parquet:"negotiated_rate"`
	BillingClass       string  `parquet:"billing_class,optional"`
	RateType           string  `parquet:"rate_type,optional"`

	ServiceCodes []string `parquet:"service_codes,list"`

	PlanDetails     PlanDetails     `parquet:"plan_details"`
	ContractPeriod  ContractPeriod  `parquet:"contract_period"`
	ProviderNetwork ProviderNetwork `parquet:"provider_network"`
	DataLineage     DataLineage     `parquet:"data_lineage"`
	QualityFlags    QualityFlags    `parquet:"quality_flags"`
}

// OrganizationRow is one billing entity, deduplicated per source file.
type OrganizationRow struct {
	OrganizationUUID string `parquet:"organization_uuid"`
	PayerUUID        string `parquet:"payer_uuid"`
	TIN              string `parquet:"tin,optional"`
	OrganizationName string `parquet:"organization_name,optional"`
	SourceURL        string `parquet:"source_url"`
	ExtractedAt      string `parquet:"extracted_at"`
}

// ProviderRow is one NPI observation, emitted once per (file, NPI).
type ProviderRow struct {
	ProviderUUID     string `parquet:"provider_uuid"`
	OrganizationUUID string `parquet:"organization_uuid"`
	PayerUUID        string `parquet:"payer_uuid"`
	NPI              string `parquet:"npi"`
	SourceURL        string `parquet:"source_url"`
	ExtractedAt      string `parquet:"extracted_at"`
}
