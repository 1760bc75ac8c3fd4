// Package domain turns climate sensor history into model-ready feature vectors.
//
// # Data Source
//
// Readings are collected upstream (an automation flow appends one row per
// reading to a spreadsheet) and arrive here as raw string tables. Headers vary
// with the collector version and locale:
//
//	Waktu | Suhu | Kelembapan | CurahHujan | DeskripsiCuaca      (Indonesian sheet)
//	Temp  | RH   | Rain                                            (short variants)
//	time  | temperature_2m (°C) | relative_humidity_2m (%) | rain (mm) (Open-Meteo export)
//
// All are mapped onto the canonical columns timestamp, temperature (°C),
// humidity (%), rainfall (mm) and weather_code. Unknown headers are dropped.
//
// # Locale Conventions
//
// Dates are day-first: "05/03/2024 14:00" is 5 March. Sheets exported in the
// Indonesian locale use dots in the time ("14.00.00") and decimal commas in
// numbers ("28,5"). Naive timestamps are UTC; every timestamp ends up in WITA
// (Asia/Makassar, UTC+8).
//
// # Feature Pipeline
//
//	raw rows -> Normalize -> observation table
//	         -> Engineer: hourly grid, forward fill, hour_of_day, day_of_week, lags
//	         -> Extract: latest complete row per feature set -> Project
//
// Lags are row shifts on the hourly grid, so a 24h lag needs 25 consecutive
// grid hours. Missing cells are never interpolated or back-filled. See
// [Resample] for the exact fill rule.
//
// # Errors
//
// Bad cells become missing values and bad timestamps drop their row. An empty
// result is [ErrInsufficientData]. A table with rows but no timestamp is
// [ErrSchema]. A row lacking a declared model feature is a
// [FeatureMismatchError].
package domain
