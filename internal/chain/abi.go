package chain

// Minimal ABIs for the three platform contracts. Only the functions the
// gateway actually calls are declared.

const identityRegistryABI = `[
	{"constant":true,"inputs":[{"name":"agent","type":"address"}],"name":"getAgent","outputs":[{"name":"name","type":"string"},{"name":"metadata","type":"string"},{"name":"active","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"getAgentCount","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"index","type":"uint256"}],"name":"getAgentByIndex","outputs":[{"name":"agent","type":"address"},{"name":"name","type":"string"},{"name":"metadata","type":"string"},{"name":"active","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"name","type":"string"},{"name":"metadata","type":"string"}],"name":"registerAgent","outputs":[],"type":"function"}
]`

const escrowContractABI = `[
	{"constant":false,"inputs":[{"name":"id","type":"bytes32"},{"name":"payer","type":"address"},{"name":"payee","type":"address"},{"name":"amount","type":"uint256"},{"name":"description","type":"string"}],"name":"createEscrow","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"id","type":"bytes32"}],"name":"releaseEscrow","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"id","type":"bytes32"}],"name":"refundEscrow","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"id","type":"bytes32"},{"name":"reason","type":"string"}],"name":"disputeEscrow","outputs":[],"type":"function"}
]`

const reputationRegistryABI = `[
	{"constant":true,"inputs":[{"name":"agent","type":"address"}],"name":"getAgentId","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"rating","type":"uint8"},{"name":"tag1","type":"string"},{"name":"tag2","type":"string"},{"name":"proofHash","type":"bytes32"}],"name":"submitFeedback","outputs":[],"type":"function"},
	{"constant":true,"inputs":[{"name":"agent","type":"address"}],"name":"getFeedbackCount","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"agent","type":"address"},{"name":"index","type":"uint256"}],"name":"getFeedback","outputs":[{"name":"from","type":"address"},{"name":"rating","type":"uint8"},{"name":"tag1","type":"string"},{"name":"tag2","type":"string"},{"name":"proofHash","type":"bytes32"},{"name":"revoked","type":"bool"}],"type":"function"}
]`
