// Package app is the composition layer of the reporting service. It wires
// storage, cache and mail into the domain services and manages the
// lifecycle of background workers such as the reminder scheduler.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── apperr/             # Sentinel errors shared by services and HTTP
//	├── domain/             # Domain models (pure data structures)
//	│   ├── entry/          # Monthly metric entries
//	│   ├── form/           # Form tracking rows and the form id codec
//	│   ├── period/         # YYYY-MM months and deadlines
//	│   └── ...             # Hospitals, profiles, support, reminders
//	├── services/           # Business logic, one package per concern
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # HospitalStore, EntryStore, ...
//	│   ├── memory/         # In-memory implementation for tests and demos
//	│   ├── postgres/       # PostgreSQL implementation (sqlx)
//	│   └── supabase/       # Supabase PostgREST implementation
//	├── httpapi/            # HTTP handlers and routing
//	├── runtime/            # Process bootstrap: config, logger, server
//	├── system/             # Lifecycle manager for background services
//	└── metrics/            # Prometheus collectors
//
// # What Belongs Here vs services/
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                      internal/app/ (Composition)                     │
//	├─────────────────────────────────────────────────────────────────────┤
//	│ ✓ Application struct and wiring                                      │
//	│ ✓ Domain models (pure data, no business logic)                       │
//	│ ✓ Storage interfaces (repository pattern)                            │
//	│ ✓ HTTP handlers (request/response handling)                          │
//	│ ✗ Business rules (belong in services/)                               │
//	└─────────────────────────────────────────────────────────────────────┘
//
// # Dependency Direction
//
//	cmd/reporting/
//	      │
//	      ▼
//	internal/app/runtime
//	      │
//	      ├──► internal/app (composition)
//	      │           │
//	      │           └──► internal/app/services/* ──► storage, cache, mail
//	      │
//	      └──► internal/app/httpapi ──► internal/middleware, internal/auth
//
// # Example: Adding a New Metric Source
//
//  1. Add the model to internal/app/domain/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/memory, storage/postgres and storage/supabase
//  4. Create the service in internal/app/services/
//  5. Wire it in application.go and add routes in httpapi
package app
