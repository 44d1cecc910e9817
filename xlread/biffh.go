package xlread

// errorTextFromCode maps Excel error codes to their text.
var errorTextFromCode = map[byte]string{
	0x00: "#NULL!",  // Intersection of two cell ranges is empty
	0x07: "#DIV/0!", // Division by zero
	0x0F: "#VALUE!", // Wrong type of operand
	0x17: "#REF!",   // Illegal or deleted cell reference
	0x1D: "#NAME?",  // Wrong function or range name
	0x24: "#NUM!",   // Value range overflow
	0x2A: "#N/A",    // Argument or function not available
	0x2B: "#GETTING_DATA",
}

func errorText(code byte) string {
	if s, ok := errorTextFromCode[code]; ok {
		return s
	}
	return "#ERR!"
}

// BIFF stream types found in BOF records.
const (
	xlWorkbookGlobals = 0x5
	xlWorksheet       = 0x10
	xlChart           = 0x20
	xlMacroSheet      = 0x40
)

// BOUNDSHEET sheet types.
const (
	boundsheetWorksheet = 0x00
	boundsheetMacro     = 0x01
	boundsheetChart     = 0x02
	boundsheetVBModule  = 0x06
)

// BIFF8 record types.
const (
	xlArray       = 0x0221
	xlBlank       = 0x0201
	xlBOF         = 0x0809
	xlBoolErr     = 0x0205
	xlBoundsheet  = 0x0085
	xlCodepage    = 0x0042
	xlContinue    = 0x003c
	xlDatemode    = 0x0022
	xlDimension   = 0x0200
	xlEOF         = 0x000a
	xlExternName  = 0x0023
	xlExternSheet = 0x0017
	xlFilePass    = 0x002f
	xlFormat      = 0x041e
	xlFormula     = 0x0006
	xlLabel       = 0x0204
	xlLabelSST    = 0x00fd
	xlMergedCells = 0x00e5
	xlMulBlank    = 0x00be
	xlMulRK       = 0x00bd
	xlName        = 0x0018
	xlNumber      = 0x0203
	xlRK          = 0x027e
	xlRString     = 0x00d6
	xlShrFmla     = 0x04bc
	xlSST         = 0x00fc
	xlString      = 0x0207
	xlSupBook     = 0x01ae
	xlTable       = 0x0236
	xlWsBool      = 0x0081
	xlXF          = 0x00e0
)

// recordNames is used by the record dump.
var recordNames = map[uint16]string{
	xlArray:       "ARRAY",
	xlBlank:       "BLANK",
	xlBOF:         "BOF",
	xlBoolErr:     "BOOLERR",
	xlBoundsheet:  "BOUNDSHEET",
	xlCodepage:    "CODEPAGE",
	xlContinue:    "CONTINUE",
	xlDatemode:    "DATEMODE",
	xlDimension:   "DIMENSION",
	xlEOF:         "EOF",
	xlExternName:  "EXTERNNAME",
	xlExternSheet: "EXTERNSHEET",
	xlFilePass:    "FILEPASS",
	xlFormat:      "FORMAT",
	xlFormula:     "FORMULA",
	xlLabel:       "LABEL",
	xlLabelSST:    "LABELSST",
	xlMergedCells: "MERGEDCELLS",
	xlMulBlank:    "MULBLANK",
	xlMulRK:       "MULRK",
	xlName:        "NAME",
	xlNumber:      "NUMBER",
	xlRK:          "RK",
	xlRString:     "RSTRING",
	xlShrFmla:     "SHRFMLA",
	xlSST:         "SST",
	xlString:      "STRING",
	xlSupBook:     "SUPBOOK",
	xlTable:       "TABLE",
	xlWsBool:      "WSBOOL",
	xlXF:          "XF",
	0x0031:        "FONT",
	0x0092:        "PALETTE",
	0x0293:        "STYLE",
	0x023e:        "WINDOW2",
	0x0208:        "ROW",
	0x020b:        "INDEX",
	0x00ff:        "EXTSST",
	0x008c:        "COUNTRY",
	0x005c:        "WRITEACCESS",
	0x007d:        "COLINFO",
}

// codepageAliases maps code pages without a direct charmap entry.
var codepageAliases = map[int]int{
	32768: 10000, // mac_roman
	32769: 1252,
}
