// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import "strings"

// AppType classifies a package by its PARAM.SFO CATEGORY field.
type AppType string

// The closed set of app types. Unknown is the fallback for categories the
// mapping doesn't cover.
const (
	AppTypeApp     AppType = "app"
	AppTypeGame    AppType = "game"
	AppTypeDLC     AppType = "dlc"
	AppTypeUpdate  AppType = "update"
	AppTypeSave    AppType = "save"
	AppTypeUnknown AppType = "unknown"
)

var appTypeByCategory = map[string]AppType{
	"GD": AppTypeGame,
	"GC": AppTypeGame,
	"GP": AppTypeUpdate,
	"AC": AppTypeDLC,
	"SD": AppTypeSave,
	"AD": AppTypeApp,
	"AL": AppTypeApp,
	"AP": AppTypeApp,
	"BD": AppTypeApp,
	"DD": AppTypeApp,
}

// AppTypeForCategory maps a PARAM.SFO CATEGORY value to an AppType.
func AppTypeForCategory(category string) AppType {
	if appType, ok := appTypeByCategory[strings.ToUpper(strings.TrimSpace(category))]; ok {
		return appType
	}
	return AppTypeUnknown
}

// ParseAppType converts a stored app type string back into an AppType,
// falling back to unknown for anything outside the closed set.
func ParseAppType(value string) AppType {
	switch AppType(strings.ToLower(strings.TrimSpace(value))) {
	case AppTypeApp:
		return AppTypeApp
	case AppTypeGame:
		return AppTypeGame
	case AppTypeDLC:
		return AppTypeDLC
	case AppTypeUpdate:
		return AppTypeUpdate
	case AppTypeSave:
		return AppTypeSave
	default:
		return AppTypeUnknown
	}
}

func (a AppType) String() string { return string(a) }
