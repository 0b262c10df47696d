package hazard

// Hazard is an opaque tag for a physical, financial or privacy risk that
// invoking a device action may carry. Unknown tags are valid; the catalogue
// below only adds descriptions and categories for the well-known ones.
type Hazard string

// Category groups hazards by the kind of harm they describe.
type Category string

// Category constants.
const (
	CategorySafety    Category = "safety"
	CategoryFinancial Category = "financial"
	CategoryPrivacy   Category = "privacy"
	CategoryUnknown   Category = "unknown"
)

// Well-known hazards.
const (
	AirPoisoning               Hazard = "AirPoisoning"
	Asphyxia                   Hazard = "Asphyxia"
	AudioVideoDisplay          Hazard = "AudioVideoDisplay"
	AudioVideoRecordAndStore   Hazard = "AudioVideoRecordAndStore"
	ElectricEnergyConsumption  Hazard = "ElectricEnergyConsumption"
	Explosion                  Hazard = "Explosion"
	FireHazard                 Hazard = "FireHazard"
	GasConsumption             Hazard = "GasConsumption"
	LogEnergyConsumption       Hazard = "LogEnergyConsumption"
	LogUsageTime               Hazard = "LogUsageTime"
	PaySubscriptionFee         Hazard = "PaySubscriptionFee"
	PowerOutage                Hazard = "PowerOutage"
	PowerSurge                 Hazard = "PowerSurge"
	RecordIssuedCommands       Hazard = "RecordIssuedCommands"
	RecordUserPreferences      Hazard = "RecordUserPreferences"
	SpendMoney                 Hazard = "SpendMoney"
	SpoiledFood                Hazard = "SpoiledFood"
	TakeDeviceScreenshots      Hazard = "TakeDeviceScreenshots"
	TakePictures               Hazard = "TakePictures"
	UnauthorisedPhysicalAccess Hazard = "UnauthorisedPhysicalAccess"
	VideoDisplay               Hazard = "VideoDisplay"
	VideoRecordAndStore        Hazard = "VideoRecordAndStore"
	WaterConsumption           Hazard = "WaterConsumption"
	WaterFlooding              Hazard = "WaterFlooding"
)

// Info describes a well-known hazard.
type Info struct {
	Hazard      Hazard   `json:"hazard"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

var catalogue = map[Hazard]Info{
	AirPoisoning:               {AirPoisoning, CategorySafety, "The execution may release toxic gases."},
	Asphyxia:                   {Asphyxia, CategorySafety, "The execution may cause oxygen deficiency by gaseous substances."},
	AudioVideoDisplay:          {AudioVideoDisplay, CategoryPrivacy, "The execution authorises the app to display a video with audio coming from the device."},
	AudioVideoRecordAndStore:   {AudioVideoRecordAndStore, CategoryPrivacy, "The execution authorises the app to record and save a video with audio on persistent storage."},
	ElectricEnergyConsumption:  {ElectricEnergyConsumption, CategoryFinancial, "The execution enables a device that consumes electricity."},
	Explosion:                  {Explosion, CategorySafety, "The execution may cause an explosion."},
	FireHazard:                 {FireHazard, CategorySafety, "The execution may cause fire."},
	GasConsumption:             {GasConsumption, CategoryFinancial, "The execution enables a device that consumes gas."},
	LogEnergyConsumption:       {LogEnergyConsumption, CategoryPrivacy, "The execution authorises the app to get and save information about the app's energy impact on the device."},
	LogUsageTime:               {LogUsageTime, CategoryPrivacy, "The execution authorises the app to get and save information about the app's duration of use."},
	PaySubscriptionFee:         {PaySubscriptionFee, CategoryFinancial, "The execution authorises the app to use payment information and make a periodic payment."},
	PowerOutage:                {PowerOutage, CategorySafety, "The execution may cause an interruption in the supply of electricity."},
	PowerSurge:                 {PowerSurge, CategorySafety, "The execution may lead to exposure to high voltages."},
	RecordIssuedCommands:       {RecordIssuedCommands, CategoryPrivacy, "The execution authorises the app to get and save user inputs."},
	RecordUserPreferences:      {RecordUserPreferences, CategoryPrivacy, "The execution authorises the app to get and save information about the user's preferences."},
	SpendMoney:                 {SpendMoney, CategoryFinancial, "The execution authorises the app to use payment information and make a payment transaction."},
	SpoiledFood:                {SpoiledFood, CategorySafety, "The execution may lead to rotten food."},
	TakeDeviceScreenshots:      {TakeDeviceScreenshots, CategoryPrivacy, "The execution authorises the app to read the display output and take screenshots of it."},
	TakePictures:               {TakePictures, CategoryPrivacy, "The execution authorises the app to use a camera and take photos."},
	UnauthorisedPhysicalAccess: {UnauthorisedPhysicalAccess, CategorySafety, "The execution disables a protection mechanism and unauthorised individuals may physically enter a location."},
	VideoDisplay:               {VideoDisplay, CategoryPrivacy, "The execution authorises the app to display a video coming from the device."},
	VideoRecordAndStore:        {VideoRecordAndStore, CategoryPrivacy, "The execution authorises the app to record and save a video on persistent storage."},
	WaterConsumption:           {WaterConsumption, CategoryFinancial, "The execution enables a device that consumes water."},
	WaterFlooding:              {WaterFlooding, CategorySafety, "The execution allows water usage which may lead to flood."},
}

// Lookup returns catalogue information for a well-known hazard.
func Lookup(h Hazard) (Info, bool) {
	info, ok := catalogue[h]
	return info, ok
}

// Known reports whether h is in the catalogue.
func Known(h Hazard) bool {
	_, ok := catalogue[h]
	return ok
}

// CategoryOf returns the hazard's category, or CategoryUnknown for tags
// outside the catalogue.
func CategoryOf(h Hazard) Category {
	if info, ok := catalogue[h]; ok {
		return info.Category
	}
	return CategoryUnknown
}

// All returns every catalogued hazard as a set.
func All() Set {
	hs := make([]Hazard, 0, len(catalogue))
	for h := range catalogue {
		hs = append(hs, h)
	}
	return NewSet(hs...)
}

// InCategory returns the catalogued hazards of one category.
func InCategory(c Category) Set {
	var hs []Hazard
	for h, info := range catalogue {
		if info.Category == c {
			hs = append(hs, h)
		}
	}
	return NewSet(hs...)
}
