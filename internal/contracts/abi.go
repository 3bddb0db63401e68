package contracts

// Minimal ABIs of the launchpad contracts. Only the read methods and events used by the indexer are declared.

const factoryABIJSON = `[
	{"type":"function","name":"allTokensLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allTokens","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getPool","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

const poolABIJSON = `[
	{"type":"function","name":"getPriceForSell","stateMutability":"view","inputs":[{"name":"tokenAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"reserves","stateMutability":"view","inputs":[],"outputs":[{"name":"hbarReserve","type":"uint256"},{"name":"tokenReserve","type":"uint256"}]},
	{"type":"event","name":"Bought","anonymous":false,"inputs":[
		{"name":"buyer","type":"address","indexed":true},
		{"name":"hbarIn","type":"uint256","indexed":false},
		{"name":"tokensOut","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"Sold","anonymous":false,"inputs":[
		{"name":"seller","type":"address","indexed":true},
		{"name":"tokensIn","type":"uint256","indexed":false},
		{"name":"hbarOut","type":"uint256","indexed":false}
	]}
]`

const tokenABIJSON = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`
