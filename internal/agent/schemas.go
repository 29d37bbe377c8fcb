package agent

const inputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "run_id": { "type": "string" },
    "iteration": { "type": "integer" },
    "phase": { "type": "string" },
    "phase_type": { "enum": ["execute", "evaluate"] },
    "prompt": { "type": "string" },
    "model": { "type": "string" },
    "allowed_writes": { "type": "array", "items": { "type": "string" } },
    "work_dir": { "type": "string" },
    "run_dir": { "type": "string" },
    "facts": { "type": "object" }
  },
  "required": ["run_id", "iteration", "phase", "phase_type", "prompt", "work_dir", "run_dir", "facts"]
}`

const outputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "status": { "enum": ["ok", "error"] },
    "summary": { "type": "string" },
    "status_updates": { "type": "object" }
  },
  "required": ["status"]
}`
