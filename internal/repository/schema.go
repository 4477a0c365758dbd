package repository

// Schema definitions for the Vasool database.
// Compatible with both SQLite and PostgreSQL.
// Amounts are stored as decimal strings and due dates as YYYY-MM-DD text.

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    external_id TEXT,
    source TEXT NOT NULL,
    customer_name TEXT NOT NULL,
    customer_key TEXT NOT NULL,
    amount TEXT NOT NULL,
    balance TEXT,
    currency TEXT NOT NULL,
    due_date TEXT,
    status TEXT NOT NULL,
    is_emailed INTEGER NOT NULL DEFAULT 0,
    manual_logs TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(tenant_id, customer_key);
CREATE INDEX IF NOT EXISTS idx_invoices_due ON invoices(tenant_id, due_date);
CREATE INDEX IF NOT EXISTS idx_invoices_external ON invoices(tenant_id, external_id);
`

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    name_key TEXT NOT NULL,
    contact_person TEXT,
    email TEXT,
    phone TEXT,
    ai_enabled INTEGER NOT NULL DEFAULT 1,
    stage_contacts TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_name ON customers(tenant_id, name_key);
`

// schemaProtocols holds one escalation protocol per tenant as JSON.
const schemaProtocols = `
CREATE TABLE IF NOT EXISTS protocols (
    tenant_id TEXT PRIMARY KEY,
    protocol TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaFollowUps = `
CREATE TABLE IF NOT EXISTS followups (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_kind TEXT NOT NULL,
    customer_id TEXT,
    customer_key TEXT NOT NULL,
    customer_name TEXT NOT NULL,
    channel TEXT NOT NULL,
    stage INTEGER NOT NULL,
    status TEXT NOT NULL,
    message TEXT,
    recipient TEXT,
    sent_at TIMESTAMP NOT NULL,
    outcome TEXT,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_followups_customer ON followups(tenant_id, customer_key, sent_at);
CREATE INDEX IF NOT EXISTS idx_followups_sent ON followups(tenant_id, sent_at);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    channel TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaInvoices,
		schemaCustomers,
		schemaProtocols,
		schemaFollowUps,
		schemaPolicies,
	}
}
