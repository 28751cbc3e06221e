// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package config loads telemetrysync configuration with koanf.

Sources, lowest to highest precedence:

 1. Built-in defaults (defaultConfig)
 2. YAML file: $CONFIG_PATH, or the first of DefaultConfigPaths that exists
 3. Environment variables from an explicit allow-list (envMappings)

Example config.yaml:

	store:
	  driver: sqlite
	  path: /var/lib/telemetrysync/telemetry.db
	remote:
	  base_url: https://telemetry.example.com/api
	sync:
	  interval: 2m
	  batch_size: 100
	events:
	  nats:
	    enabled: true
	    url: nats://nats:4222

An empty remote.base_url runs the engine offline-only: records accumulate
as pending until a remote is configured.

Validate is split per section and rejects values that would make the sync
engine misbehave (zero batch size, max backoff below base backoff, an
unparseable listen address and so on).
*/
package config
