package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_IsLoadIsStore(t *testing.T) {
	tests := []struct {
		op            Opcode
		isLoad        bool
		isStore       bool
		isSize2       bool
		isReferenceLd bool
		isReferenceSt bool
	}{
		{OpILoad, true, false, false, false, false},
		{OpLLoad, true, false, true, false, false},
		{OpALoad, true, false, false, true, false},
		{OpIStore, false, true, false, false, false},
		{OpDStore, false, true, true, false, false},
		{OpAStore, false, true, false, false, true},
		{OpPop, false, false, false, false, false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.isLoad, IsLoad(tc.op), "IsLoad(%v)", tc.op)
		require.Equal(t, tc.isStore, IsStore(tc.op), "IsStore(%v)", tc.op)
		require.Equal(t, tc.isSize2, IsSize2LoadOrStore(tc.op), "IsSize2LoadOrStore(%v)", tc.op)
		require.Equal(t, tc.isReferenceLd, IsReferenceLoad(tc.op), "IsReferenceLoad(%v)", tc.op)
		require.Equal(t, tc.isReferenceSt, IsReferenceStore(tc.op), "IsReferenceStore(%v)", tc.op)
	}
}

func Test_IsReturn(t *testing.T) {
	require.True(t, IsReturn(OpReturn))
	require.True(t, IsReturn(OpAReturn))
	require.False(t, IsReturn(OpGoto))
	require.False(t, IsReturn(OpPop))
}

func Test_GetPop(t *testing.T) {
	require.Equal(t, OpPop, GetPop(1))
	require.Equal(t, OpPop2, GetPop(2))
}

func Test_IsPureArithmetic_ExcludesStackShuffles(t *testing.T) {
	require.True(t, IsPureArithmetic(OpIAdd))
	require.True(t, IsPureArithmetic(OpINeg))
	require.True(t, IsPureArithmetic(OpIDiv)) // pure in the stack-effect sense; IsDivOrRem gates its removal separately.
	require.False(t, IsPureArithmetic(OpPop))
	require.False(t, IsPureArithmetic(OpDup))
	require.False(t, IsPureArithmetic(OpIReturn))
}

func Test_IsDivOrRem(t *testing.T) {
	for _, op := range []Opcode{OpIDiv, OpLDiv, OpIRem, OpLRem} {
		require.True(t, IsDivOrRem(op))
	}
	require.False(t, IsDivOrRem(OpIAdd))
}

func Test_ArithmeticArity(t *testing.T) {
	require.Equal(t, 2, ArithmeticArity(OpIAdd))
	require.Equal(t, 1, ArithmeticArity(OpINeg))
	require.Equal(t, 1, ArithmeticArity(OpI2L))
	require.Equal(t, 2, ArithmeticArity(OpLCmp))
}

func Test_IsExoticDuplicator(t *testing.T) {
	for _, op := range []Opcode{OpDupX1, OpDupX2, OpDup2X1, OpDup2X2, OpSwap} {
		require.True(t, IsExoticDuplicator(op), "%v should be exotic", op)
	}
	require.False(t, IsExoticDuplicator(OpDup))
	require.False(t, IsExoticDuplicator(OpDup2))
}

func Test_IsNumericOrStringConstant(t *testing.T) {
	require.True(t, IsNumericOrStringConstant(&Insn{Kind: KindConst, ConstKind: ConstInt}))
	require.True(t, IsNumericOrStringConstant(&Insn{Kind: KindConst, ConstKind: ConstString}))
	require.True(t, IsNumericOrStringConstant(&Insn{Kind: KindConst, ConstKind: ConstNull}))
	require.False(t, IsNumericOrStringConstant(&Insn{Kind: KindConst, ConstKind: ConstClass}))
	require.False(t, IsNumericOrStringConstant(&Insn{Kind: KindPlain}))
}

func Test_IsScalaUnbox(t *testing.T) {
	require.True(t, IsScalaUnbox("scala/runtime/BoxesRunTime", "unboxToInt"))
	require.False(t, IsScalaUnbox("scala/runtime/BoxesRunTime", "boxToInteger"))
	require.False(t, IsScalaUnbox("java/lang/Integer", "unboxToInt"))
}

func Test_IsJavaUnbox(t *testing.T) {
	require.True(t, IsJavaUnbox("java/lang/Integer", "intValue", "()I"))
	require.False(t, IsJavaUnbox("java/lang/Integer", "toString", "()Ljava/lang/String;"))
	require.False(t, IsJavaUnbox("java/lang/Object", "intValue", "()I"))
}

func Test_IsBoxedUnit(t *testing.T) {
	require.True(t, IsBoxedUnit(&Insn{Kind: KindField, Op: OpGetStatic, Owner: "scala/runtime/BoxedUnit", Name: "UNIT"}))
	require.False(t, IsBoxedUnit(&Insn{Kind: KindField, Op: OpGetStatic, Owner: "scala/runtime/BoxedUnit", Name: "OTHER"}))
	require.False(t, IsBoxedUnit(&Insn{Kind: KindField, Op: OpGetField, Owner: "scala/runtime/BoxedUnit", Name: "UNIT"}))
}

func Test_IsModuleLoad(t *testing.T) {
	require.True(t, IsModuleLoad(&Insn{Kind: KindField, Op: OpGetStatic, Name: "MODULE$"}))
	require.False(t, IsModuleLoad(&Insn{Kind: KindField, Op: OpGetStatic, Name: "other"}))
}

func Test_ClassTagNewArrayArg(t *testing.T) {
	call := &Insn{Kind: KindMethodCall, Owner: "scala/reflect/ClassTag", Name: "newArray"}
	receiver := &Insn{Kind: KindConst, ConstKind: ConstClass, StrValue: "java/lang/String"}
	name, ok := ClassTagNewArrayArg(call, receiver)
	require.True(t, ok)
	require.Equal(t, "java/lang/String", name)

	_, ok = ClassTagNewArrayArg(call, &Insn{Kind: KindConst, ConstKind: ConstInt})
	require.False(t, ok)

	other := &Insn{Kind: KindMethodCall, Owner: "scala/reflect/ClassTag", Name: "apply"}
	_, ok = ClassTagNewArrayArg(other, receiver)
	require.False(t, ok)
}

func Test_IsRuntimeArrayLoadOrUpdate(t *testing.T) {
	require.True(t, IsRuntimeArrayLoadOrUpdate(&Insn{Kind: KindMethodCall, Owner: "scala/runtime/ScalaRunTime$", Name: "array_apply"}))
	require.True(t, IsRuntimeArrayLoadOrUpdate(&Insn{Kind: KindMethodCall, Owner: "scala/runtime/ScalaRunTime$", Name: "array_update"}))
	require.False(t, IsRuntimeArrayLoadOrUpdate(&Insn{Kind: KindMethodCall, Owner: "scala/runtime/ScalaRunTime$", Name: "other"}))
}

func Test_LambdaMetaFactoryCall(t *testing.T) {
	require.True(t, LambdaMetaFactoryCall(&Insn{Kind: KindInvokeDynamic, Owner: "java/lang/invoke/LambdaMetafactory"}))
	require.False(t, LambdaMetaFactoryCall(&Insn{Kind: KindInvokeDynamic, Owner: "other"}))
	require.False(t, LambdaMetaFactoryCall(&Insn{Kind: KindMethodCall, Owner: "java/lang/invoke/LambdaMetafactory"}))
}

func Test_DefaultOracle(t *testing.T) {
	o := DefaultOracle()
	require.True(t, o.IsSideEffectFreeCall("java/lang/Integer", "valueOf", "(I)Ljava/lang/Integer;"))
	require.False(t, o.IsSideEffectFreeCall("java/lang/System", "exit", "(I)V"))
	require.True(t, o.IsSideEffectFreeConstructor("java/lang/Object", "()V"))
	require.False(t, o.IsSideEffectFreeConstructor("java/io/FileOutputStream", "(Ljava/lang/String;)V"))
	require.True(t, o.IsSideEffectFreeConstructorNew("java/lang/StringBuilder"))
}
