// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package segtherm is a thermometer that shows its reading on a multiplexed
// 3-digit 7-segment LED display.
//
// mux refreshes the digits while sampler reads the sensor; thermometer ties
// them together. The program is cmd/segtherm.
package segtherm
