package signalk

import (
	"fmt"
	"strings"
)

// Leaf is the last part of a battery path, below electrical.batteries.<id>.
type Leaf string

const (
	LeafVoltage             Leaf = "voltage"
	LeafCurrent             Leaf = "current"
	LeafPower               Leaf = "power"
	LeafStateOfCharge       Leaf = "capacity.stateOfCharge"
	LeafRemainingAh         Leaf = "capacity.remainingAh"
	LeafNominalAh           Leaf = "capacity.nominalAh"
	LeafActualAh            Leaf = "capacity.actualAh"
	LeafChargeEfficiency    Leaf = "chargeEfficiency"
	LeafDischargeEfficiency Leaf = "dischargeEfficiency"
)

// Anchor chain paths.
const (
	PathCurrentRode = "navigation.anchor.currentRode"
	PathResetRode   = "navigation.anchor.resetRode"
)

const batteriesPrefix = "electrical.batteries."

// LeafInfo holds display name and unit for a battery leaf.
type LeafInfo struct {
	Name string
	Unit string
}

// LeafCatalog maps every known Leaf to its display name and unit.
var LeafCatalog = map[Leaf]LeafInfo{
	LeafVoltage:             {Name: "Voltage", Unit: "V"},
	LeafCurrent:             {Name: "Current", Unit: "A"},
	LeafPower:               {Name: "Power", Unit: "W"},
	LeafStateOfCharge:       {Name: "State of Charge", Unit: "ratio"},
	LeafRemainingAh:         {Name: "Remaining Charge", Unit: "Ah"},
	LeafNominalAh:           {Name: "Marked Capacity", Unit: "Ah"},
	LeafActualAh:            {Name: "Usable Capacity", Unit: "Ah"},
	LeafChargeEfficiency:    {Name: "Charge Efficiency", Unit: "%"},
	LeafDischargeEfficiency: {Name: "Discharge Efficiency", Unit: "%"},
}

// BatteryPath returns electrical.batteries.<id>.<leaf>.
func BatteryPath(id string, leaf Leaf) string {
	return batteriesPrefix + id + "." + string(leaf)
}

// ParseBatteryPath splits a battery path into battery id and leaf. Battery
// ids must not contain dots.
func ParseBatteryPath(path string) (string, Leaf, bool) {
	rest, ok := strings.CutPrefix(path, batteriesPrefix)
	if !ok {
		return "", "", false
	}
	id, leaf, ok := strings.Cut(rest, ".")
	if !ok || id == "" {
		return "", "", false
	}
	if _, known := LeafCatalog[Leaf(leaf)]; !known {
		return "", "", false
	}
	return id, Leaf(leaf), true
}

// SelfContext returns the Signal K context for the vessel with the given UUID.
func SelfContext(vesselUUID string) string {
	return fmt.Sprintf("vessels.urn:mrn:signalk:uuid:%s", vesselUUID)
}
