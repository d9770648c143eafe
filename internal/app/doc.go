// Package app provides the application composition layer for lockswap.
//
// # Architecture Role
//
// The app package composes the ledger, the capability services and the
// background keeper into a running application. Business rules live in
// internal/app/services; this package only wires them.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/
//	│   ├── ledger/         # Object, Owner and Effects
//	│   └── capability/     # Lock, Key and Escrow views
//	├── storage/            # Ledger contract, atomic unit buffer, clocks
//	│   ├── memory/         # In-memory ledger for tests and local runs
//	│   ├── postgres/       # sqlx ledger with version-guarded commits
//	│   └── redis/          # WATCH/MULTI ledger
//	├── services/
//	│   ├── lockkey/        # Lock/key pair, swap and hash time-locked escrow
//	│   ├── objects/        # Item registration and plain transfers
//	│   ├── compliance/     # Transfer gates (deny list, address policy)
//	│   └── keeper/         # Periodic refund of expired escrows
//	├── events/             # Fan-out of committed effects
//	├── httpapi/            # REST handlers on gorilla/mux, /events websocket
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/lockswap/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (capability rules)
//	      │           │
//	      │           └──► internal/app/storage/ (atomic units)
//	      │
//	      └──► internal/platform/ (schema migrations)
//
// Every capability operation runs as one storage.Tx. Nothing it writes is
// visible until the unit commits, and a commit that loses an optimistic
// concurrency race is re-executed against fresh state.
package app
