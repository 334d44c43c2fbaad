package provider

import "fmt"

// Spec declares the fixed characteristics of one vendor endpoint.
type Spec struct {
	DataType  string
	HasVIP    bool
	Paginated bool
	LimitMax  int
	// DateParam names the request parameter date-keyed archivers pass for
	// a single partition.
	DateParam string
	// OverlapRows, when non-zero, shrinks the offset advance between pages
	// so consecutive pages overlap. The vendor drops trailing rows on some
	// paginated endpoints; the final full-row dedup removes the overlap.
	OverlapRows int
}

// Endpoint is a data type bound to its concrete vendor API name. The VIP
// variant is preferred when the endpoint declares one.
type Endpoint struct {
	DataType string
	APIName  string
	Spec     Spec
}

// endpointTable is the static registry of known endpoints. Resolution
// happens once at archiver construction; unknown data types are a
// construction-time error.
var endpointTable = map[string]Spec{
	"trade_cal":        {DataType: "trade_cal", LimitMax: 3000},
	"stock_basic":      {DataType: "stock_basic", Paginated: true, LimitMax: 5000},
	"daily":            {DataType: "daily", Paginated: true, LimitMax: 5000, DateParam: "trade_date"},
	"daily_basic":      {DataType: "daily_basic", HasVIP: true, Paginated: true, LimitMax: 5000, DateParam: "trade_date"},
	"adj_factor":       {DataType: "adj_factor", Paginated: true, LimitMax: 5000, DateParam: "trade_date"},
	"moneyflow":        {DataType: "moneyflow", HasVIP: true, Paginated: true, LimitMax: 4000, DateParam: "trade_date"},
	"income":           {DataType: "income", HasVIP: true, Paginated: true, LimitMax: 3000, OverlapRows: 100, DateParam: "period"},
	"balancesheet":     {DataType: "balancesheet", HasVIP: true, Paginated: true, LimitMax: 3000, OverlapRows: 100, DateParam: "period"},
	"cashflow":         {DataType: "cashflow", HasVIP: true, Paginated: true, LimitMax: 3000, OverlapRows: 100, DateParam: "period"},
	"fina_indicator":   {DataType: "fina_indicator", HasVIP: true, Paginated: true, LimitMax: 3000, OverlapRows: 100, DateParam: "period"},
	"dividend":         {DataType: "dividend", Paginated: true, LimitMax: 3000, DateParam: "ann_date"},
	"anns":             {DataType: "anns", Paginated: true, LimitMax: 2000, DateParam: "ann_date"},
	"stk_holdernumber": {DataType: "stk_holdernumber", Paginated: true, LimitMax: 3000},
	"index_weight":     {DataType: "index_weight", Paginated: true, LimitMax: 4000, DateParam: "trade_date"},
}

// Resolve binds a data type to its endpoint, applying the VIP preference
// rule.
func Resolve(dataType string) (Endpoint, error) {
	spec, ok := endpointTable[dataType]
	if !ok {
		return Endpoint{}, fmt.Errorf("unknown vendor endpoint: %s", dataType)
	}
	apiName := dataType
	if spec.HasVIP {
		apiName = dataType + "_vip"
	}
	return Endpoint{DataType: dataType, APIName: apiName, Spec: spec}, nil
}
