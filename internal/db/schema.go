package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- ACCOUNT TABLE (point balances, keyed by user id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS account SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS balance ON account TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated ON account TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- LEDGER_ENTRY TABLE (holds and their settlement)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ledger_entry SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON ledger_entry TYPE string;
    DEFINE FIELD IF NOT EXISTS segment_id ON ledger_entry TYPE string;
    DEFINE FIELD IF NOT EXISTS request_id ON ledger_entry TYPE string;
    DEFINE FIELD IF NOT EXISTS model ON ledger_entry TYPE string;
    DEFINE FIELD IF NOT EXISTS held ON ledger_entry TYPE int ASSERT $value >= 0;
    DEFINE FIELD IF NOT EXISTS settled ON ledger_entry TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS status ON ledger_entry TYPE string
        ASSERT $value IN ["held", "settled", "refunded"];
    DEFINE FIELD IF NOT EXISTS created ON ledger_entry TYPE datetime;
    DEFINE FIELD IF NOT EXISTS finalized ON ledger_entry TYPE option<datetime>;
    -- JSON-encoded usage of a delivered result awaiting settlement
    DEFINE FIELD IF NOT EXISTS pending_usage ON ledger_entry TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS ledger_entry_user ON ledger_entry FIELDS user_id, created;
    DEFINE INDEX IF NOT EXISTS ledger_entry_status ON ledger_entry FIELDS status, created;

    -- ==========================================================================
    -- EXPLANATION_CACHE TABLE (keyed by segment id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS explanation_cache SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS fingerprint ON explanation_cache TYPE string;
    -- JSON-encoded cache entry
    DEFINE FIELD IF NOT EXISTS payload ON explanation_cache TYPE string;
    DEFINE FIELD IF NOT EXISTS updated ON explanation_cache TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- SEGMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS segment SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document_id ON segment TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON segment TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS text ON segment TYPE string;
    -- JSON-encoded explanation record, cleared when the text changes
    DEFINE FIELD IF NOT EXISTS explanation ON segment TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS updated ON segment TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS segment_document ON segment FIELDS document_id, position;

    -- ==========================================================================
    -- TOKEN_USAGE TABLE (one row per settled request)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS token_usage SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS operation ON token_usage TYPE string;
    DEFINE FIELD IF NOT EXISTS model ON token_usage TYPE string;
    DEFINE FIELD IF NOT EXISTS user_id ON token_usage TYPE string;
    DEFINE FIELD IF NOT EXISTS segment_id ON token_usage TYPE string;
    DEFINE FIELD IF NOT EXISTS input_tokens ON token_usage TYPE int;
    DEFINE FIELD IF NOT EXISTS output_tokens ON token_usage TYPE int;
    DEFINE FIELD IF NOT EXISTS total_tokens ON token_usage TYPE int;
    DEFINE FIELD IF NOT EXISTS cost_points ON token_usage TYPE int;
    DEFINE FIELD IF NOT EXISTS created ON token_usage TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS token_usage_created ON token_usage FIELDS created;
`
