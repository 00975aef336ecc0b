package dwarf

// Tag identifies the kind of a debugging information entry (DW_TAG_*).
type Tag uint32

// A representative subset of DWARF v2-4 tags; enough to walk compile
// units, subprograms, inlined subroutines, variables and the type graph
// a backtrace needs to print arguments.
const (
	TagArrayType         Tag = 0x01
	TagClassType         Tag = 0x02
	TagEnumerationType   Tag = 0x04
	TagFormalParameter   Tag = 0x05
	TagLexDwarfBlock     Tag = 0x0b
	TagMember            Tag = 0x0d
	TagPointerType       Tag = 0x0f
	TagCompileUnit       Tag = 0x11
	TagStructType        Tag = 0x13
	TagSubroutineType    Tag = 0x15
	TagTypedef           Tag = 0x16
	TagUnionType         Tag = 0x17
	TagUnspecifiedParams Tag = 0x18
	TagVariant           Tag = 0x19
	TagInheritance       Tag = 0x1c
	TagSubrangeType      Tag = 0x21
	TagBaseType          Tag = 0x24
	TagConstType         Tag = 0x26
	TagEnumerator        Tag = 0x28
	TagSubprogram        Tag = 0x2e
	TagVariable          Tag = 0x34
	TagVolatileType      Tag = 0x35
	TagRestrictType      Tag = 0x37
	TagNamespace         Tag = 0x39
	TagInlinedSubroutine Tag = 0x1d
)

var tagNames = map[Tag]string{
	TagArrayType:         "ArrayType",
	TagClassType:         "ClassType",
	TagEnumerationType:   "EnumerationType",
	TagFormalParameter:   "FormalParameter",
	TagLexDwarfBlock:     "LexDwarfBlock",
	TagMember:            "Member",
	TagPointerType:       "PointerType",
	TagCompileUnit:       "CompileUnit",
	TagStructType:        "StructType",
	TagSubroutineType:    "SubroutineType",
	TagTypedef:           "Typedef",
	TagUnionType:         "UnionType",
	TagUnspecifiedParams: "UnspecifiedParameters",
	TagVariant:           "Variant",
	TagInheritance:       "Inheritance",
	TagSubrangeType:      "SubrangeType",
	TagBaseType:          "BaseType",
	TagConstType:         "ConstType",
	TagEnumerator:        "Enumerator",
	TagSubprogram:        "Subprogram",
	TagVariable:          "Variable",
	TagVolatileType:      "VolatileType",
	TagRestrictType:      "RestrictType",
	TagNamespace:         "Namespace",
	TagInlinedSubroutine: "InlinedSubroutine",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "UnknownTag"
}

// Attr identifies an attribute name (DW_AT_*).
type Attr uint32

const (
	AttrSibling      Attr = 0x01
	AttrLocation     Attr = 0x02
	AttrName         Attr = 0x03
	AttrByteSize     Attr = 0x0b
	AttrStmtList     Attr = 0x10
	AttrLowpc        Attr = 0x11
	AttrHighpc       Attr = 0x12
	AttrLanguage     Attr = 0x13
	AttrCompDir      Attr = 0x1b
	AttrConstValue   Attr = 0x1c
	AttrUpperBound   Attr = 0x2f
	AttrProducer     Attr = 0x25
	AttrPrototyped   Attr = 0x27
	AttrAbstractOrig Attr = 0x31
	AttrArtificial   Attr = 0x34
	AttrDeclFile     Attr = 0x3a
	AttrDeclLine     Attr = 0x3b
	AttrDeclaration  Attr = 0x3c
	AttrEncoding     Attr = 0x3e
	AttrExternal     Attr = 0x3f
	AttrFrameBase    Attr = 0x40
	AttrType         Attr = 0x49
	AttrRanges       Attr = 0x55
	AttrCallFile     Attr = 0x58
	AttrCallLine     Attr = 0x59
)

// Form identifies the on-disk encoding of an attribute value (DW_FORM_*).
type Form uint32

const (
	FormAddr        Form = 0x01
	FormBlock2      Form = 0x03
	FormBlock4      Form = 0x04
	FormData2       Form = 0x05
	FormData4       Form = 0x06
	FormData8       Form = 0x07
	FormString      Form = 0x08
	FormBlock       Form = 0x09
	FormBlock1      Form = 0x0a
	FormData1       Form = 0x0b
	FormFlag        Form = 0x0c
	FormSdata       Form = 0x0d
	FormStrp        Form = 0x0e
	FormUdata       Form = 0x0f
	FormRefAddr     Form = 0x10
	FormRef1        Form = 0x11
	FormRef2        Form = 0x12
	FormRef4        Form = 0x13
	FormRef8        Form = 0x14
	FormRefUdata    Form = 0x15
	FormIndirect    Form = 0x16
	FormSecOffset   Form = 0x17
	FormExprloc     Form = 0x18
	FormFlagPresent Form = 0x19
	FormRefSig8     Form = 0x20
)
